package domain

import (
	"strconv"
	"strings"
)

// Field names of the processor callback body.
const (
	FieldTxnID          = "txn_id"
	FieldOrderNumber    = "order_number"
	FieldAmount         = "amount"
	FieldCurrency       = "currency"
	FieldStatus         = "status"
	FieldSourceAmount   = "source_amount"
	FieldSourceCurrency = "source_currency"
	FieldConfirmations  = "confirmations"
	FieldHash           = "hash"
)

// ParseNotice validates the decoded callback fields and builds a normalized
// Notice. raw is the original body, retained verbatim for audit.
func ParseNotice(fields map[string]string, raw []byte) (*Notice, error) {
	txnID := strings.TrimSpace(fields[FieldTxnID])
	if txnID == "" {
		return nil, ErrMissingTxnID
	}

	status := Status(strings.ToLower(strings.TrimSpace(fields[FieldStatus])))
	if !ValidStatus(status) {
		return nil, ErrInvalidStatus
	}

	currency := strings.ToUpper(strings.TrimSpace(fields[FieldCurrency]))
	if currency == "" {
		return nil, ErrInvalidCurrency
	}

	amount, err := ParseAmount(fields[FieldAmount])
	if err != nil {
		return nil, err
	}

	confirmations := 0
	if v := strings.TrimSpace(fields[FieldConfirmations]); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			return nil, ErrInvalidPayload
		}
		confirmations = parsed
	}

	return &Notice{
		TxnID:          txnID,
		OrderNumber:    strings.TrimSpace(fields[FieldOrderNumber]),
		Status:         status,
		Amount:         amount,
		Currency:       currency,
		SourceAmount:   strings.TrimSpace(fields[FieldSourceAmount]),
		SourceCurrency: strings.ToUpper(strings.TrimSpace(fields[FieldSourceCurrency])),
		Confirmations:  confirmations,
		RawPayload:     raw,
	}, nil
}
