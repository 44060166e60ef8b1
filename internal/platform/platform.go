package platform

import "time"

type Platform string

const (
	Bank        Platform = "bank"
	MobileMoney Platform = "mobile_money"
)

func (p Platform) Valid() bool {
	return p == Bank || p == MobileMoney
}

// BankTransaction is one raw record from the bank-aggregation API.
// Amounts are signed decimal strings; negative means money out.
type BankTransaction struct {
	ExternalID string     `json:"external_id"`
	Amount     string     `json:"amount"`
	Direction  string     `json:"direction,omitempty"`
	Narration  string     `json:"narration"`
	Date       time.Time  `json:"date"`
	Balance    string     `json:"balance,omitempty"`
	Category   string     `json:"category,omitempty"`
	Merchant   string     `json:"merchant,omitempty"`
}

// MomoTransaction is one raw record from the mobile-money API. The upstream
// has shipped the external identifier under several field names over time;
// DedupKey resolves the first non-empty one.
type MomoTransaction struct {
	ExternalID             string    `json:"external_id,omitempty"`
	MomoReferenceID        string    `json:"momo_reference_id,omitempty"`
	FinancialTransactionID string    `json:"financial_transaction_id,omitempty"`
	Amount                 string    `json:"amount"`
	Currency               string    `json:"currency,omitempty"`
	Direction              string    `json:"direction,omitempty"`
	Status                 string    `json:"status"`
	PayerMessage           string    `json:"payer_message,omitempty"`
	PayeeNote              string    `json:"payee_note,omitempty"`
	PayerName              string    `json:"payer_name,omitempty"`
	PayeeName              string    `json:"payee_name,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
}

const momoStatusSuccessful = "SUCCESSFUL"

// Eligible reports whether the record represents settled money movement.
// Pending and failed upstream entries are never ingested.
func (t MomoTransaction) Eligible() bool {
	return t.Status == momoStatusSuccessful
}

// DedupKey returns the first populated external identifier, oldest alias
// last. An empty key means the record cannot be safely deduplicated.
func (t MomoTransaction) DedupKey() string {
	if t.ExternalID != "" {
		return t.ExternalID
	}
	if t.MomoReferenceID != "" {
		return t.MomoReferenceID
	}
	return t.FinancialTransactionID
}
