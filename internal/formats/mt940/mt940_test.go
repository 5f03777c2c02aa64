package mt940

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bankfeeds/backend/internal/formats"
)

func TestParseRoundTrip(t *testing.T) {
	input := "{4:\n" +
		":20:STARTUMS\n" +
		":25:NL00BANK0123456789\n" +
		":28C:1/1\n" +
		":60F:C240101EUR1000,00\n" +
		":61:2401150115C50,00NTRFNONREF\n" +
		":86:/REMI/Invoice 42/\n" +
		":62F:C240131EUR1050,00\n" +
		"-}"

	stmts, err := New().Parse([]byte(input))
	require.NoError(t, err)
	require.Len(t, stmts, 1)

	stmt := stmts[0]
	assert.Equal(t, "NL00BANK0123456789", stmt.AccountNumber)
	assert.Equal(t, "EUR", stmt.CurrencyCode)
	require.True(t, stmt.BalanceStart.Valid)
	require.True(t, stmt.BalanceEnd.Valid)
	assert.True(t, stmt.BalanceStart.Decimal.Equal(decimal.RequireFromString("1000.00")))
	assert.True(t, stmt.BalanceEnd.Decimal.Equal(decimal.RequireFromString("1050.00")))
	assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), stmt.Date)
	assert.Equal(t, "NL00BANK0123456789-2024-01-31", stmt.Name)

	require.Len(t, stmt.Transactions, 1)
	tx := stmt.Transactions[0]
	assert.True(t, tx.Amount.Equal(decimal.RequireFromString("50.00")))
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), tx.Date)
	assert.Equal(t, "Invoice 42", tx.PaymentRef)

	// balance conservation
	assert.True(t, stmt.BalanceStart.Decimal.Add(stmt.TransactionTotal()).Equal(stmt.BalanceEnd.Decimal))
}

func TestParseTwoStatementFile(t *testing.T) {
	input := "{4:\n" +
		":20:REF1\n:25:NL00BANK0123456789\n" +
		":60F:C240101EUR100,00\n" +
		":61:2401020102D25,00NTRFNONREF\n" +
		":62F:C240131EUR75,00\n" +
		"-}\n" +
		"{4:\n" +
		":20:REF2\n:25:NL00BANK0123456789\n" +
		":60F:C240201EUR75,00\n" +
		":61:2402050205C10,50NTRFNONREF\n" +
		":62F:C240229EUR85,50\n" +
		"-}"

	stmts, err := New().Parse([]byte(input))
	require.NoError(t, err)
	require.Len(t, stmts, 2)

	assert.True(t, stmts[0].Transactions[0].Amount.Equal(decimal.RequireFromString("-25.00")))
	assert.True(t, stmts[1].Transactions[0].Amount.Equal(decimal.RequireFromString("10.50")))
	for _, stmt := range stmts {
		assert.True(t, stmt.BalanceStart.Decimal.Add(stmt.TransactionTotal()).Equal(stmt.BalanceEnd.Decimal))
	}
}

func TestParseBatchedExportWithoutEnvelope(t *testing.T) {
	// Non-standard batched export: no {4:...} blocks, statements split
	// on :20: lines.
	input := ":20:A\n:25:NL00BANK0123456789\n:60F:C240101EUR10,00\n:62F:C240131EUR10,00\n" +
		":20:B\n:25:NL00BANK0123456789\n:60F:C240201EUR10,00\n:62F:C240229EUR10,00\n"

	stmts, err := New().Parse([]byte(input))
	require.NoError(t, err)
	assert.Len(t, stmts, 2)
}

func TestParseRejectsNonMT940(t *testing.T) {
	_, err := New().Parse([]byte(`<?xml version="1.0"?><Document/>`))
	require.Error(t, err)
	assert.True(t, formats.IsFormatError(err))
}

func TestTag86Counterparty(t *testing.T) {
	input := "{4:\n" +
		":20:REF\n:25:NL00BANK0123456789\n" +
		":60F:C240101EUR0,00\n" +
		":61:2401150115D12,34NTRFNONREF\n" +
		":86:/CNTP/NL45RABO0123456789/RABONL2U/Acme Suppliers BV//\n" +
		"/EREF/E2E-777/\n" +
		":62F:D240131EUR12,34\n" +
		"-}"

	stmts, err := New().Parse([]byte(input))
	require.NoError(t, err)
	require.Len(t, stmts[0].Transactions, 1)

	tx := stmts[0].Transactions[0]
	assert.Equal(t, "NL45RABO0123456789", tx.AccountNumber)
	assert.Equal(t, "Acme Suppliers BV", tx.PartnerName)
	assert.Equal(t, "E2E-777", tx.Ref)
	assert.Equal(t, "E2E-777", tx.UniqueImportID)
}

func TestTag86UnstructuredText(t *testing.T) {
	input := "{4:\n" +
		":20:REF\n:25:NL00BANK0123456789\n" +
		":60F:C240101EUR0,00\n" +
		":61:2401150115C5,00NTRFNONREF\n" +
		":86:Monthly interest payment\n" +
		":62F:C240131EUR5,00\n" +
		"-}"

	stmts, err := New().Parse([]byte(input))
	require.NoError(t, err)
	tx := stmts[0].Transactions[0]
	assert.Equal(t, "Monthly interest payment", tx.Narration)
	assert.Equal(t, "Monthly interest payment", tx.PaymentRef)
}

func TestTag86BeforeAnyTransaction(t *testing.T) {
	input := "{4:\n" +
		":20:REF\n:25:NL00BANK0123456789\n" +
		":60F:C240101EUR0,00\n" +
		":86:orphan free text\n" +
		":62F:C240131EUR0,00\n" +
		"-}"

	_, err := New().Parse([]byte(input))
	require.Error(t, err)
	var ve *formats.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestReversalOfCreditIsNegative(t *testing.T) {
	input := "{4:\n" +
		":20:REF\n:25:NL00BANK0123456789\n" +
		":60F:C240101EUR100,00\n" +
		":61:2401150115RC40,00NTRFNONREF\n" +
		":62F:C240131EUR60,00\n" +
		"-}"

	stmts, err := New().Parse([]byte(input))
	require.NoError(t, err)
	assert.True(t, stmts[0].Transactions[0].Amount.Equal(decimal.RequireFromString("-40.00")))
}

func TestRemittanceInfoStructured(t *testing.T) {
	assert.Equal(t, "12345", remittanceInfo("STRD/CUR/12345/"))
	assert.Equal(t, "pay text", remittanceInfo("USTD//pay text/"))
	assert.Equal(t, "Invoice 42", remittanceInfo("Invoice 42/"))
	assert.Equal(t, "a/b", remittanceInfo("a//b/"))
}

func TestAccountCurrencySuffixStripped(t *testing.T) {
	input := "{4:\n" +
		":20:REF\n:25:NL00BANK0123456789/EUR\n" +
		":60F:C240101EUR0,00\n" +
		":62F:C240131EUR0,00\n" +
		"-}"

	stmts, err := New().Parse([]byte(input))
	require.NoError(t, err)
	assert.Equal(t, "NL00BANK0123456789", stmts[0].AccountNumber)
}
