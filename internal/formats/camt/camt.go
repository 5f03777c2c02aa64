// Package camt parses ISO 20022 camt.052/053/054 bank-to-customer
// reports into parsed statements.
package camt

import (
	"bytes"
	"encoding/xml"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"

	"github.com/bankfeeds/backend/internal/formats"
	"github.com/bankfeeds/backend/internal/models"
)

const formatName = "camt"

// Supported message identifiers: camt.052 (account report), camt.053
// (statement), camt.054 (debit/credit notification), any minor version.
var namespaceRe = regexp.MustCompile(`^urn:iso:std:iso:20022:tech:xsd:camt\.05[234]\.001\.\d{2}$`)

// Parser implements formats.Parser for CAMT XML files.
type Parser struct{}

// New creates a CAMT parser.
func New() *Parser {
	return &Parser{}
}

func (p *Parser) Name() string { return formatName }

// Parse validates the CAMT envelope and extracts one parsed statement
// per Stmt/Rpt/Ntfctn node. Mis-encoded files (ISO-8859-15 bytes
// labelled UTF-8 have been seen in the wild) are re-decoded once with a
// latin superset before giving up.
func (p *Parser) Parse(data []byte) ([]models.ParsedStatement, error) {
	stmts, err := p.parse(data)
	if err == nil || formats.IsFormatError(err) {
		return stmts, err
	}
	recoded, decErr := charmap.ISO8859_15.NewDecoder().Bytes(data)
	if decErr != nil {
		return nil, err
	}
	return p.parse(recoded)
}

func (p *Parser) parse(data []byte) ([]models.ParsedStatement, error) {
	ns, err := checkEnvelope(data)
	if err != nil {
		return nil, err
	}

	var doc document
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charsetReader
	if err := dec.Decode(&doc); err != nil {
		return nil, formats.NewValidationError(formatName, "decoding %s document: %v", ns, err)
	}

	nodes := doc.statementNodes()
	if len(nodes) == 0 {
		return nil, formats.NewValidationError(formatName, "document contains no statements")
	}

	stmts := make([]models.ParsedStatement, 0, len(nodes))
	for _, node := range nodes {
		stmt, err := parseStatement(node)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

// checkEnvelope verifies the root is a namespace-qualified Document for
// a supported camt version and that GrpHdr opens the root's first
// child. Anything else is a FormatError so the next parser in the chain
// gets a chance.
func checkEnvelope(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charsetReader

	var root xml.StartElement
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", formats.NewFormatError(formatName, "input is not well-formed XML")
		}
		if se, ok := tok.(xml.StartElement); ok {
			root = se
			break
		}
	}
	if root.Name.Local != "Document" || !namespaceRe.MatchString(root.Name.Space) {
		return "", formats.NewFormatError(formatName, "root %q in namespace %q is not a supported camt document", root.Name.Local, root.Name.Space)
	}

	// The first child of Document is the message body (BkToCstmrStmt,
	// BkToCstmrAcctRpt or BkToCstmrDbtCdtNtfctn); GrpHdr must be among
	// its opening children or the file is not a bank-to-customer report.
	depth := 0
	childIdx := -1
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return "", formats.NewFormatError(formatName, "document has no message body")
		}
		if err != nil {
			return "", formats.NewFormatError(formatName, "input is not well-formed XML")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 2 {
				childIdx++
				if t.Name.Local == "GrpHdr" {
					return root.Name.Space, nil
				}
				if childIdx >= 1 {
					return "", formats.NewFormatError(formatName, "expected GrpHdr near the start of %s", root.Name.Local)
				}
				if err := dec.Skip(); err != nil {
					return "", formats.NewFormatError(formatName, "input is not well-formed XML")
				}
				depth--
			}
		case xml.EndElement:
			depth--
			if depth < 0 {
				return "", formats.NewFormatError(formatName, "document has no message body")
			}
		}
	}
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "iso-8859-15":
		return charmap.ISO8859_15.NewDecoder().Reader(input), nil
	case "iso-8859-1", "latin1":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	default:
		return input, nil
	}
}

func parseStatement(node stmtNode) (models.ParsedStatement, error) {
	stmt := models.ParsedStatement{
		Name:          node.ID,
		CurrencyCode:  node.Acct.Ccy,
		AccountNumber: node.Acct.Id.Number(),
	}

	start, end, endDate := pickBalances(node.Bal)
	stmt.BalanceStart = start
	stmt.BalanceEnd = end

	seq := 0
	for _, entry := range node.Ntry {
		txs, err := parseEntry(entry, stmt.CurrencyCode, &seq)
		if err != nil {
			return models.ParsedStatement{}, err
		}
		stmt.Transactions = append(stmt.Transactions, txs...)
	}

	stmt.Date = statementDate(node, endDate, stmt.Transactions)
	if stmt.CurrencyCode == "" && len(node.Bal) > 0 {
		stmt.CurrencyCode = node.Bal[0].Amt.Ccy
	}

	// Some banks send an all-zero opening balance next to a real closing
	// balance; recover the opening balance from the transaction total.
	if stmt.BalanceStart.Valid && stmt.BalanceStart.Decimal.IsZero() &&
		stmt.BalanceEnd.Valid && !stmt.BalanceEnd.Decimal.IsZero() {
		stmt.BalanceStart = decimal.NewNullDecimal(stmt.BalanceEnd.Decimal.Sub(stmt.TransactionTotal()))
	}
	return stmt, nil
}

// pickBalances selects the opening and closing balances by type code:
// OPBD then PRCD for the start, CLBD for the end, with ITBD as the
// fallback for both. When ITBD appears twice the first occurrence is the
// opening balance and the last the closing one.
func pickBalances(bals []balance) (start, end decimal.NullDecimal, endDate string) {
	var itbd []balance
	for _, b := range bals {
		code := b.Tp.CdOrPrtry.Cd
		amt, err := b.signedAmount()
		if err != nil {
			continue
		}
		switch code {
		case "OPBD":
			if !start.Valid {
				start = decimal.NewNullDecimal(amt)
			}
		case "PRCD":
			if !start.Valid {
				start = decimal.NewNullDecimal(amt)
			}
		case "CLBD":
			end = decimal.NewNullDecimal(amt)
			endDate = b.Dt.value()
		case "ITBD":
			itbd = append(itbd, b)
		}
	}
	if !start.Valid && len(itbd) > 0 {
		if amt, err := itbd[0].signedAmount(); err == nil {
			start = decimal.NewNullDecimal(amt)
		}
	}
	if !end.Valid && len(itbd) > 0 {
		last := itbd[len(itbd)-1]
		if amt, err := last.signedAmount(); err == nil {
			end = decimal.NewNullDecimal(amt)
			endDate = last.Dt.value()
		}
	}
	return start, end, endDate
}

func statementDate(node stmtNode, balanceDate string, txs []models.Transaction) time.Time {
	if d, err := parseISODate(balanceDate); err == nil {
		return d
	}
	if d, err := parseISODate(node.FrToDt.ToDtTm); err == nil {
		return d
	}
	var latest time.Time
	for _, tx := range txs {
		if tx.Date.After(latest) {
			latest = tx.Date
		}
	}
	return latest
}

// parseEntry expands one Ntry node into transactions: one per nested
// TxDtls, or a single synthetic transaction when no details exist.
func parseEntry(entry ntry, stmtCcy string, seq *int) ([]models.Transaction, error) {
	date, err := entry.date()
	if err != nil {
		return nil, formats.NewValidationError(formatName, "entry %q has no usable date", entry.NtryRef)
	}

	details := entry.NtryDtls.TxDtls
	if len(details) == 0 {
		*seq++
		tx, err := entryTransaction(entry, date, stmtCcy, *seq)
		if err != nil {
			return nil, err
		}
		return []models.Transaction{tx}, nil
	}

	txs := make([]models.Transaction, 0, len(details))
	for _, dtl := range details {
		*seq++
		tx, err := detailTransaction(entry, dtl, date, stmtCcy, *seq)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func entryTransaction(entry ntry, date time.Time, stmtCcy string, seq int) (models.Transaction, error) {
	amount, err := signedAmount(entry.Amt.Text, entry.CdtDbtInd, "")
	if err != nil {
		return models.Transaction{}, formats.NewValidationError(formatName, "entry %q: bad amount %q", entry.NtryRef, entry.Amt.Text)
	}
	tx := models.Transaction{
		Date:           date,
		Amount:         amount,
		PaymentRef:     firstNonEmpty(entry.AddtlNtryInf, entry.NtryRef, entry.AcctSvcrRef),
		Ref:            entry.NtryRef,
		UniqueImportID: firstNonEmpty(entry.AcctSvcrRef, entry.NtryRef),
		Sequence:       seq,
	}
	applyForeignCurrency(&tx, entry.Amt.Ccy, stmtCcy, amount)
	return tx, nil
}

func detailTransaction(entry ntry, dtl txDtls, date time.Time, stmtCcy string, seq int) (models.Transaction, error) {
	amtText, amtCcy := dtl.amount(entry)
	// Credit/debit indicator is searched on the detail node first, then
	// on the parent entry.
	amount, err := signedAmount(amtText, dtl.CdtDbtInd, entry.CdtDbtInd)
	if err != nil {
		return models.Transaction{}, formats.NewValidationError(formatName, "entry %q: bad amount %q", entry.NtryRef, amtText)
	}

	tx := models.Transaction{
		Date:           date,
		Amount:         amount,
		PaymentRef:     firstNonEmpty(strings.Join(dtl.RmtInf.Ustrd, " "), entry.AddtlNtryInf, dtl.Refs.EndToEndId, entry.NtryRef),
		Ref:            firstNonEmpty(dtl.Refs.EndToEndId, dtl.Refs.TxId, entry.NtryRef),
		UniqueImportID: firstNonEmpty(dtl.Refs.AcctSvcrRef, entry.AcctSvcrRef, dtl.Refs.TxId, dtl.Refs.EndToEndId),
		Narration:      dtl.AddtlTxInf,
		Sequence:       seq,
	}
	if amount.IsNegative() {
		tx.PartnerName = dtl.RltdPties.Cdtr.name()
		tx.AccountNumber = dtl.RltdPties.CdtrAcct.Id.Number()
	} else {
		tx.PartnerName = dtl.RltdPties.Dbtr.name()
		tx.AccountNumber = dtl.RltdPties.DbtrAcct.Id.Number()
	}
	applyForeignCurrency(&tx, amtCcy, stmtCcy, amount)
	return tx, nil
}

// applyForeignCurrency records the original-currency amount only when it
// differs from the statement currency.
func applyForeignCurrency(tx *models.Transaction, txCcy, stmtCcy string, amount decimal.Decimal) {
	if txCcy != "" && stmtCcy != "" && txCcy != stmtCcy {
		tx.CurrencyCode = txCcy
		tx.AmountCurrency = amount
	}
}

func signedAmount(text, ind, parentInd string) (decimal.Decimal, error) {
	amt, err := decimal.NewFromString(strings.TrimSpace(text))
	if err != nil {
		return decimal.Zero, err
	}
	if ind == "" {
		ind = parentInd
	}
	if ind == "DBIT" {
		return amt.Neg(), nil
	}
	return amt, nil
}

func parseISODate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &time.ParseError{Layout: "2006-01-02", Value: s}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
