// Package merge folds parsed statements into persisted statement
// aggregates. A bucket key is (journal, bucket date); merging the same
// transactions twice is a no-op because every line is checked by its
// unique import id before insertion.
package merge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bankfeeds/backend/internal/models"
)

// BucketKey identifies one statement aggregate.
type BucketKey struct {
	JournalID int64
	Date      time.Time
}

// ErrStatementClosed is returned when a merge targets a bucket whose
// aggregate was already confirmed by reconciliation.
var ErrStatementClosed = errors.New("statement is closed and cannot be merged into")

// Engine merges transactions into statement aggregates.
type Engine struct {
	db *sql.DB
}

// NewEngine creates a merge engine over db.
func NewEngine(db *sql.DB) *Engine {
	return &Engine{db: db}
}

// Merge folds stmt into the aggregate for key, creating the aggregate
// if it does not exist. The existence check and the inserts run in one
// SQL transaction so a concurrent import of the same file cannot slip
// duplicates in between them. When allowEmpty is false, a statement
// with no transactions and no declared balances creates nothing.
func (e *Engine) Merge(ctx context.Context, key BucketKey, stmt models.ParsedStatement, allowEmpty bool) (models.MergeReport, error) {
	report := models.MergeReport{}

	empty := len(stmt.Transactions) == 0 && !stmt.BalanceStart.Valid && !stmt.BalanceEnd.Valid
	if empty && !allowEmpty {
		return report, nil
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("beginning merge transaction: %w", err)
	}
	defer tx.Rollback()

	statementID, balanceStart, balanceEnd, state, created, err := e.lockAggregate(ctx, tx, key, stmt)
	if err != nil {
		return report, err
	}
	if state == "closed" {
		return report, fmt.Errorf("%w: journal %d, bucket %s", ErrStatementClosed, key.JournalID, key.Date.Format("2006-01-02"))
	}
	report.StatementID = statementID

	toInsert, skipped, skippedIDs, err := e.partition(ctx, tx, key.JournalID, stmt.Transactions)
	if err != nil {
		return report, err
	}
	report.Skipped = len(skipped)
	report.SkippedLineIDs = skippedIDs

	// Skipped duplicates still contributed to the opening balance the
	// provider declared over the full fetched batch; on a fresh aggregate
	// their amounts fold into balance_start so start + Σ(lines) keeps
	// matching balance_end. A stored balance already accounts for every
	// line in the aggregate, so re-merging must leave it alone.
	if created && balanceStart.Valid {
		for _, t := range skipped {
			balanceStart.Decimal = balanceStart.Decimal.Add(t.Amount)
		}
	}
	if stmt.BalanceEnd.Valid {
		balanceEnd = stmt.BalanceEnd
	}

	sort.SliceStable(toInsert, func(i, j int) bool {
		return toInsert[i].Sequence < toInsert[j].Sequence
	})
	for _, t := range toInsert {
		if err := e.insertLine(ctx, tx, statementID, key.JournalID, t); err != nil {
			return report, err
		}
	}
	report.Created = len(toInsert)

	if err := e.updateAggregate(ctx, tx, statementID, balanceStart, balanceEnd); err != nil {
		return report, err
	}

	if err := tx.Commit(); err != nil {
		return report, fmt.Errorf("committing merge: %w", err)
	}
	log.Printf("[MERGE] journal=%d bucket=%s statement=%d created=%d skipped=%d",
		key.JournalID, key.Date.Format("2006-01-02"), statementID, report.Created, report.Skipped)
	return report, nil
}

// lockAggregate finds the open aggregate for key or creates one seeded
// with the statement's declared balances. The returned flag reports
// whether the aggregate was created by this call.
func (e *Engine) lockAggregate(ctx context.Context, tx *sql.Tx, key BucketKey, stmt models.ParsedStatement) (int64, decimal.NullDecimal, decimal.NullDecimal, string, bool, error) {
	var (
		id           int64
		state        string
		balanceStart decimal.NullDecimal
		balanceEnd   decimal.NullDecimal
	)
	err := tx.QueryRowContext(ctx, `
		SELECT id, state, balance_start, balance_end_real
		FROM statements
		WHERE journal_id = $1 AND date = $2
		FOR UPDATE`,
		key.JournalID, key.Date).Scan(&id, &state, &balanceStart, &balanceEnd)
	if err == nil {
		// An existing aggregate keeps its own opening balance; only a
		// declared start on a fresh bucket seeds balance_start.
		return id, balanceStart, balanceEnd, state, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, balanceStart, balanceEnd, "", false, fmt.Errorf("looking up statement for journal %d: %w", key.JournalID, err)
	}

	name := stmt.Name
	if name == "" {
		name = fmt.Sprintf("%s/%s", stmt.AccountNumber, key.Date.Format("2006-01-02"))
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO statements (journal_id, date, name, currency_code, account_number, balance_start, balance_end_real, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'open', $8)
		RETURNING id`,
		key.JournalID, key.Date, name, stmt.CurrencyCode, stmt.AccountNumber,
		stmt.BalanceStart, stmt.BalanceEnd, time.Now()).Scan(&id)
	if err != nil {
		return 0, balanceStart, balanceEnd, "", false, fmt.Errorf("creating statement for journal %d: %w", key.JournalID, err)
	}
	return id, stmt.BalanceStart, stmt.BalanceEnd, "open", true, nil
}

// partition splits transactions into fresh lines and duplicates. Lines
// without a unique import id are never deduplicated.
func (e *Engine) partition(ctx context.Context, tx *sql.Tx, journalID int64, txs []models.Transaction) ([]models.Transaction, []models.Transaction, []int64, error) {
	var (
		toInsert   []models.Transaction
		skipped    []models.Transaction
		skippedIDs []int64
	)
	for _, t := range txs {
		if t.UniqueImportID == "" {
			toInsert = append(toInsert, t)
			continue
		}
		var existingID int64
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM statement_lines
			WHERE journal_id = $1 AND unique_import_id = $2
			LIMIT 1`,
			journalID, t.UniqueImportID).Scan(&existingID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			toInsert = append(toInsert, t)
		case err != nil:
			return nil, nil, nil, fmt.Errorf("checking unique import id %q: %w", t.UniqueImportID, err)
		default:
			skipped = append(skipped, t)
			skippedIDs = append(skippedIDs, existingID)
		}
	}
	return toInsert, skipped, skippedIDs, nil
}

func (e *Engine) insertLine(ctx context.Context, tx *sql.Tx, statementID, journalID int64, t models.Transaction) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO statement_lines (statement_id, journal_id, date, amount, amount_currency, currency_code,
			payment_ref, ref, unique_import_id, partner_name, account_number, narration, sequence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		statementID, journalID, t.Date, t.Amount, nullDecimal(t.AmountCurrency), nullString(t.CurrencyCode),
		t.PaymentRef, nullString(t.Ref), nullString(t.UniqueImportID), nullString(t.PartnerName),
		nullString(t.AccountNumber), nullString(t.Narration), t.Sequence, time.Now())
	if err != nil {
		return fmt.Errorf("inserting line %q: %w", t.PaymentRef, err)
	}
	return nil
}

func (e *Engine) updateAggregate(ctx context.Context, tx *sql.Tx, statementID int64, balanceStart, balanceEnd decimal.NullDecimal) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE statements
		SET balance_start = $1, balance_end_real = $2, updated_at = $3
		WHERE id = $4`,
		balanceStart, balanceEnd, time.Now(), statementID)
	if err != nil {
		return fmt.Errorf("updating statement %d balances: %w", statementID, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullDecimal(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: !d.IsZero()}
}
