// Package signature verifies that an inbound callback genuinely originated
// from the payment processor.
//
// The processor signs the callback by sorting all fields except the signature
// itself, concatenating them as key=value| pairs, appending the shared secret
// and taking an MD5 digest. MD5 here is a protocol constraint dictated by the
// processor, not a choice this side is free to strengthen.
package signature

import (
	"bytes"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

type Verifier struct {
	secret string
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: strings.TrimSpace(secret)}
}

// Configured reports whether a shared secret is present. An unconfigured
// verifier refuses every payload.
func (v *Verifier) Configured() bool { return v.secret != "" }

// Verify checks the provided signature against the digest computed over
// fields. The signature field itself must already be excluded from fields.
// Comparison is constant-time.
func (v *Verifier) Verify(fields map[string]string, provided string) bool {
	provided = strings.ToLower(strings.TrimSpace(provided))
	if v.secret == "" || provided == "" {
		return false
	}

	sum := md5.Sum([]byte(canonicalize(fields) + v.secret))
	computed := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(provided)) == 1
}

func canonicalize(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
		b.WriteByte('|')
	}
	return b.String()
}

// Sign computes the digest the processor would attach to fields. Used by
// tests and the invoice client stub.
func (v *Verifier) Sign(fields map[string]string) string {
	sum := md5.Sum([]byte(canonicalize(fields) + v.secret))
	return hex.EncodeToString(sum[:])
}

// DecodeFields flattens a JSON callback body into string fields, preserving
// numeric values exactly as sent so the digest matches the processor's.
func DecodeFields(payload []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		switch typed := v.(type) {
		case string:
			fields[k] = typed
		case json.Number:
			fields[k] = typed.String()
		case bool:
			if typed {
				fields[k] = "true"
			} else {
				fields[k] = "false"
			}
		case nil:
			fields[k] = ""
		default:
			// Nested structures are not part of the processor's protocol.
			encoded, err := json.Marshal(typed)
			if err != nil {
				return nil, err
			}
			fields[k] = string(encoded)
		}
	}
	return fields, nil
}
