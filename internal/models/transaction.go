package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is the canonical unit of money movement produced by every
// format parser and provider adapter. Amount is signed in statement
// currency: positive = credit, negative = debit.
type Transaction struct {
	Date           time.Time       `json:"date" db:"date"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	AmountCurrency decimal.Decimal `json:"amount_currency" db:"amount_currency"`
	CurrencyCode   string          `json:"currency_code,omitempty" db:"currency_code"`
	PaymentRef     string          `json:"payment_ref" db:"payment_ref"`
	Ref            string          `json:"ref,omitempty" db:"ref"`
	UniqueImportID string          `json:"unique_import_id,omitempty" db:"unique_import_id"`
	PartnerName    string          `json:"partner_name,omitempty" db:"partner_name"`
	AccountNumber  string          `json:"account_number,omitempty" db:"account_number"`
	Narration      string          `json:"narration,omitempty" db:"narration"`
	Sequence       int             `json:"sequence" db:"sequence"`
}

// HasForeignCurrency reports whether the transaction carries an
// original-currency amount distinct from the statement currency.
func (t Transaction) HasForeignCurrency() bool {
	return t.CurrencyCode != ""
}
