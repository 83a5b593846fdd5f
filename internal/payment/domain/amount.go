package domain

import (
	"strconv"
	"strings"
)

// ParseAmount converts the processor's decimal string ("10.00") into minor
// units. Settlement currencies are quoted with two fractional digits; more
// precision than that is refused rather than rounded.
func ParseAmount(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "-") || strings.HasPrefix(raw, "+") {
		return 0, ErrInvalidAmount
	}

	whole := raw
	frac := ""
	if idx := strings.IndexByte(raw, '.'); idx >= 0 {
		whole = raw[:idx]
		frac = raw[idx+1:]
	}
	if whole == "" || len(frac) > 2 {
		return 0, ErrInvalidAmount
	}
	for len(frac) < 2 {
		frac += "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if units > (1<<62)/100 {
		return 0, ErrInvalidAmount
	}
	return units*100 + cents, nil
}

// FormatAmount renders minor units back to the processor's decimal form.
func FormatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return sign + strconv.FormatInt(minor/100, 10) + "." + pad2(minor%100)
}

func pad2(n int64) string {
	if n < 10 {
		return "0" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}
