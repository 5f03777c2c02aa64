package merge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrStatementNotFound is returned when a statement id does not exist.
var ErrStatementNotFound = errors.New("statement not found")

// StoredStatement is a persisted aggregate as served by the read API.
type StoredStatement struct {
	ID            int64               `json:"id"`
	JournalID     int64               `json:"journal_id"`
	Date          time.Time           `json:"date"`
	Name          string              `json:"name"`
	CurrencyCode  string              `json:"currency_code,omitempty"`
	AccountNumber string              `json:"account_number,omitempty"`
	BalanceStart  decimal.NullDecimal `json:"balance_start"`
	BalanceEnd    decimal.NullDecimal `json:"balance_end_real"`
	State         string              `json:"state"`
	LineCount     int                 `json:"line_count"`
	Lines         []StoredLine        `json:"lines,omitempty"`
}

// StoredLine is one persisted statement line.
type StoredLine struct {
	ID             int64               `json:"id"`
	Date           time.Time           `json:"date"`
	Amount         decimal.Decimal     `json:"amount"`
	AmountCurrency decimal.NullDecimal `json:"amount_currency,omitempty"`
	CurrencyCode   string              `json:"currency_code,omitempty"`
	PaymentRef     string              `json:"payment_ref"`
	Ref            string              `json:"ref,omitempty"`
	UniqueImportID string              `json:"unique_import_id,omitempty"`
	PartnerName    string              `json:"partner_name,omitempty"`
	AccountNumber  string              `json:"account_number,omitempty"`
	Narration      string              `json:"narration,omitempty"`
	Sequence       int                 `json:"sequence"`
}

// ListStatements returns aggregates for a journal, newest bucket first.
// journalID 0 lists across all journals.
func (e *Engine) ListStatements(ctx context.Context, journalID int64, limit int) ([]StoredStatement, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := e.db.QueryContext(ctx, `
		SELECT s.id, s.journal_id, s.date, s.name, COALESCE(s.currency_code, ''), COALESCE(s.account_number, ''),
			s.balance_start, s.balance_end_real, s.state,
			(SELECT COUNT(*) FROM statement_lines l WHERE l.statement_id = s.id)
		FROM statements s
		WHERE ($1 = 0 OR s.journal_id = $1)
		ORDER BY s.date DESC, s.id DESC
		LIMIT $2`,
		journalID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing statements: %w", err)
	}
	defer rows.Close()

	var out []StoredStatement
	for rows.Next() {
		var s StoredStatement
		if err := rows.Scan(&s.ID, &s.JournalID, &s.Date, &s.Name, &s.CurrencyCode, &s.AccountNumber,
			&s.BalanceStart, &s.BalanceEnd, &s.State, &s.LineCount); err != nil {
			return nil, fmt.Errorf("scanning statement: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetStatement loads one aggregate with its lines in sequence order.
func (e *Engine) GetStatement(ctx context.Context, id int64) (StoredStatement, error) {
	var s StoredStatement
	err := e.db.QueryRowContext(ctx, `
		SELECT id, journal_id, date, name, COALESCE(currency_code, ''), COALESCE(account_number, ''),
			balance_start, balance_end_real, state
		FROM statements WHERE id = $1`,
		id).Scan(&s.ID, &s.JournalID, &s.Date, &s.Name, &s.CurrencyCode, &s.AccountNumber,
		&s.BalanceStart, &s.BalanceEnd, &s.State)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrStatementNotFound
	}
	if err != nil {
		return s, fmt.Errorf("loading statement %d: %w", id, err)
	}

	rows, err := e.db.QueryContext(ctx, `
		SELECT id, date, amount, amount_currency, COALESCE(currency_code, ''), payment_ref,
			COALESCE(ref, ''), COALESCE(unique_import_id, ''), COALESCE(partner_name, ''),
			COALESCE(account_number, ''), COALESCE(narration, ''), sequence
		FROM statement_lines
		WHERE statement_id = $1
		ORDER BY sequence, id`,
		id)
	if err != nil {
		return s, fmt.Errorf("loading lines for statement %d: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var l StoredLine
		if err := rows.Scan(&l.ID, &l.Date, &l.Amount, &l.AmountCurrency, &l.CurrencyCode, &l.PaymentRef,
			&l.Ref, &l.UniqueImportID, &l.PartnerName, &l.AccountNumber, &l.Narration, &l.Sequence); err != nil {
			return s, fmt.Errorf("scanning line: %w", err)
		}
		s.Lines = append(s.Lines, l)
	}
	s.LineCount = len(s.Lines)
	return s, rows.Err()
}
