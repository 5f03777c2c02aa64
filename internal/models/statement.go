package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ParsedStatement is one logical bank statement extracted from a single
// source file or one polling window. It is built once by a format parser
// and consumed exactly once by the merge engine.
type ParsedStatement struct {
	Name          string              `json:"name,omitempty"`
	Date          time.Time           `json:"date"`
	CurrencyCode  string              `json:"currency_code,omitempty"`
	AccountNumber string              `json:"account_number,omitempty"`
	BalanceStart  decimal.NullDecimal `json:"balance_start"`
	BalanceEnd    decimal.NullDecimal `json:"balance_end_real"`
	Transactions  []Transaction       `json:"transactions"`
}

// TransactionTotal sums the signed amounts of all transactions.
func (s ParsedStatement) TransactionTotal() decimal.Decimal {
	total := decimal.Zero
	for _, tx := range s.Transactions {
		total = total.Add(tx.Amount)
	}
	return total
}

// MergeReport is the outcome of merging one parsed statement into a
// statement aggregate.
type MergeReport struct {
	StatementID    int64   `json:"statement_id"`
	Created        int     `json:"created"`
	Skipped        int     `json:"skipped"`
	SkippedLineIDs []int64 `json:"skipped_line_ids,omitempty"`
}

// Notification is a user-facing message produced by an import run.
// Details carries the line ids that were skipped as duplicates, for
// audit display.
type Notification struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ImportResult is the sole contract the import core exposes outward.
type ImportResult struct {
	StatementIDs  []int64        `json:"statement_ids"`
	Notifications []Notification `json:"notifications"`
}
