package camt

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bankfeeds/backend/internal/formats"
)

const camt053Fixture = `<?xml version="1.0" encoding="UTF-8"?>
<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.053.001.02">
  <BkToCstmrStmt>
    <GrpHdr>
      <MsgId>STMT-2024-001</MsgId>
      <CreDtTm>2024-01-31T18:00:00</CreDtTm>
    </GrpHdr>
    <Stmt>
      <Id>STMT-JAN</Id>
      <Acct>
        <Id><IBAN>NL77ABNA0574908765</IBAN></Id>
        <Ccy>EUR</Ccy>
      </Acct>
      <Bal>
        <Tp><CdOrPrtry><Cd>OPBD</Cd></CdOrPrtry></Tp>
        <Amt Ccy="EUR">1000.00</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <Dt><Dt>2024-01-01</Dt></Dt>
      </Bal>
      <Bal>
        <Tp><CdOrPrtry><Cd>CLBD</Cd></CdOrPrtry></Tp>
        <Amt Ccy="EUR">1075.50</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <Dt><Dt>2024-01-31</Dt></Dt>
      </Bal>
      <Ntry>
        <Amt Ccy="EUR">125.50</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <ValDt><Dt>2024-01-10</Dt></ValDt>
        <AcctSvcrRef>REF-001</AcctSvcrRef>
        <NtryDtls>
          <TxDtls>
            <Refs><EndToEndId>E2E-1</EndToEndId></Refs>
            <RltdPties>
              <Dbtr><Nm>Acme BV</Nm></Dbtr>
              <DbtrAcct><Id><IBAN>NL45RABO0123456789</IBAN></Id></DbtrAcct>
            </RltdPties>
            <RmtInf><Ustrd>Invoice 42</Ustrd></RmtInf>
          </TxDtls>
        </NtryDtls>
      </Ntry>
      <Ntry>
        <Amt Ccy="EUR">50.00</Amt>
        <CdtDbtInd>DBIT</CdtDbtInd>
        <ValDt><Dt>2024-01-20</Dt></ValDt>
        <AcctSvcrRef>REF-002</AcctSvcrRef>
      </Ntry>
    </Stmt>
  </BkToCstmrStmt>
</Document>`

func TestParseStatement(t *testing.T) {
	stmts, err := New().Parse([]byte(camt053Fixture))
	require.NoError(t, err)
	require.Len(t, stmts, 1)

	stmt := stmts[0]
	assert.Equal(t, "STMT-JAN", stmt.Name)
	assert.Equal(t, "EUR", stmt.CurrencyCode)
	assert.Equal(t, "NL77ABNA0574908765", stmt.AccountNumber)
	require.True(t, stmt.BalanceStart.Valid)
	require.True(t, stmt.BalanceEnd.Valid)
	assert.True(t, stmt.BalanceStart.Decimal.Equal(decimal.RequireFromString("1000.00")))
	assert.True(t, stmt.BalanceEnd.Decimal.Equal(decimal.RequireFromString("1075.50")))

	require.Len(t, stmt.Transactions, 2)

	credit := stmt.Transactions[0]
	assert.True(t, credit.Amount.Equal(decimal.RequireFromString("125.50")))
	assert.Equal(t, "Invoice 42", credit.PaymentRef)
	assert.Equal(t, "Acme BV", credit.PartnerName)
	assert.Equal(t, "NL45RABO0123456789", credit.AccountNumber)
	assert.Equal(t, "REF-001", credit.UniqueImportID)

	debit := stmt.Transactions[1]
	assert.True(t, debit.Amount.Equal(decimal.RequireFromString("-50.00")))
	assert.Equal(t, "REF-002", debit.UniqueImportID)

	// balance conservation: end == start + sum
	total := stmt.TransactionTotal()
	assert.True(t, stmt.BalanceStart.Decimal.Add(total).Equal(stmt.BalanceEnd.Decimal))
}

func TestParseMissingGrpHdr(t *testing.T) {
	fixture := `<?xml version="1.0"?>
<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.053.001.02">
  <BkToCstmrStmt>
    <SomethingElse/>
    <AlsoNotGrpHdr/>
  </BkToCstmrStmt>
</Document>`

	_, err := New().Parse([]byte(fixture))
	require.Error(t, err)
	assert.True(t, formats.IsFormatError(err), "expected FormatError, got %v", err)
}

func TestParseRejectsForeignXML(t *testing.T) {
	_, err := New().Parse([]byte(`<?xml version="1.0"?><catalog><item/></catalog>`))
	require.Error(t, err)
	assert.True(t, formats.IsFormatError(err))
}

func TestParseRejectsUnsupportedVersion(t *testing.T) {
	fixture := `<Document xmlns="urn:iso:std:iso:20022:tech:xsd:pain.001.001.03"><x/></Document>`
	_, err := New().Parse([]byte(fixture))
	require.Error(t, err)
	assert.True(t, formats.IsFormatError(err))
}

func TestParseRejectsNonXML(t *testing.T) {
	_, err := New().Parse([]byte(":20:MT940 telegram, not XML"))
	require.Error(t, err)
	assert.True(t, formats.IsFormatError(err))
}

func TestBalanceStartBackfill(t *testing.T) {
	fixture := `<?xml version="1.0"?>
<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.052.001.02">
  <BkToCstmrAcctRpt>
    <GrpHdr><MsgId>R1</MsgId></GrpHdr>
    <Rpt>
      <Id>RPT-1</Id>
      <Acct><Id><IBAN>DE89370400440532013000</IBAN></Id><Ccy>EUR</Ccy></Acct>
      <Bal>
        <Tp><CdOrPrtry><Cd>OPBD</Cd></CdOrPrtry></Tp>
        <Amt Ccy="EUR">0.00</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
      </Bal>
      <Bal>
        <Tp><CdOrPrtry><Cd>CLBD</Cd></CdOrPrtry></Tp>
        <Amt Ccy="EUR">300.00</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <Dt><Dt>2024-02-29</Dt></Dt>
      </Bal>
      <Ntry>
        <Amt Ccy="EUR">100.00</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <ValDt><Dt>2024-02-10</Dt></ValDt>
        <AcctSvcrRef>A1</AcctSvcrRef>
      </Ntry>
    </Rpt>
  </BkToCstmrAcctRpt>
</Document>`

	stmts, err := New().Parse([]byte(fixture))
	require.NoError(t, err)
	require.Len(t, stmts, 1)

	// 0.00 opening next to a real closing balance is recovered as
	// closing - sum(transactions) = 300 - 100 = 200.
	require.True(t, stmts[0].BalanceStart.Valid)
	assert.True(t, stmts[0].BalanceStart.Decimal.Equal(decimal.RequireFromString("200.00")))
}

func TestITBDFallbackBalances(t *testing.T) {
	fixture := `<?xml version="1.0"?>
<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.053.001.02">
  <BkToCstmrStmt>
    <GrpHdr><MsgId>M1</MsgId></GrpHdr>
    <Stmt>
      <Id>S1</Id>
      <Acct><Id><IBAN>FR1420041010050500013M02606</IBAN></Id><Ccy>EUR</Ccy></Acct>
      <Bal>
        <Tp><CdOrPrtry><Cd>ITBD</Cd></CdOrPrtry></Tp>
        <Amt Ccy="EUR">500.00</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <Dt><Dt>2024-03-01</Dt></Dt>
      </Bal>
      <Bal>
        <Tp><CdOrPrtry><Cd>ITBD</Cd></CdOrPrtry></Tp>
        <Amt Ccy="EUR">420.00</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <Dt><Dt>2024-03-31</Dt></Dt>
      </Bal>
      <Ntry>
        <Amt Ccy="EUR">80.00</Amt>
        <CdtDbtInd>DBIT</CdtDbtInd>
        <ValDt><Dt>2024-03-15</Dt></ValDt>
        <AcctSvcrRef>B1</AcctSvcrRef>
      </Ntry>
    </Stmt>
  </BkToCstmrStmt>
</Document>`

	stmts, err := New().Parse([]byte(fixture))
	require.NoError(t, err)
	require.Len(t, stmts, 1)

	assert.True(t, stmts[0].BalanceStart.Decimal.Equal(decimal.RequireFromString("500.00")))
	assert.True(t, stmts[0].BalanceEnd.Decimal.Equal(decimal.RequireFromString("420.00")))
	assert.True(t, stmts[0].Transactions[0].Amount.Equal(decimal.RequireFromString("-80.00")))
}

func TestLatinReDecode(t *testing.T) {
	// "Caf<0xE9>" in ISO-8859-15 bytes inside a file declaring UTF-8.
	raw := `<?xml version="1.0" encoding="UTF-8"?>
<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.053.001.02">
  <BkToCstmrStmt>
    <GrpHdr><MsgId>L1</MsgId></GrpHdr>
    <Stmt>
      <Id>S1</Id>
      <Acct><Id><IBAN>BE71096123456769</IBAN></Id><Ccy>EUR</Ccy></Acct>
      <Ntry>
        <Amt Ccy="EUR">10.00</Amt>
        <CdtDbtInd>DBIT</CdtDbtInd>
        <ValDt><Dt>2024-04-01</Dt></ValDt>
        <AcctSvcrRef>C1</AcctSvcrRef>
        <AddtlNtryInf>Caf` + "\xe9" + ` Bruxelles</AddtlNtryInf>
      </Ntry>
    </Stmt>
  </BkToCstmrStmt>
</Document>`

	stmts, err := New().Parse([]byte(raw))
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	require.Len(t, stmts[0].Transactions, 1)
	assert.Equal(t, "Café Bruxelles", stmts[0].Transactions[0].PaymentRef)
}
