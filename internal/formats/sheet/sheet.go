// Package sheet parses delimited (CSV) and spreadsheet (XLSX) bank
// exports driven by a user-declared column mapping.
package sheet

import (
	"bytes"
	"encoding/csv"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/bankfeeds/backend/internal/formats"
	"github.com/bankfeeds/backend/internal/models"
)

const formatName = "sheet"

var xlsxMagic = []byte{0x50, 0x4b, 0x03, 0x04}

// Parser implements formats.Parser for mapping-driven sheets. The
// target currency decides which rows belong to the journal being
// imported into; rows in any other currency are skipped.
type Parser struct {
	mapping        Mapping
	targetCurrency string
}

// New creates a sheet parser for one mapping and target currency.
func New(mapping Mapping, targetCurrency string) *Parser {
	return &Parser{mapping: mapping, targetCurrency: strings.ToUpper(targetCurrency)}
}

func (p *Parser) Name() string { return formatName }

type row struct {
	tx      models.Transaction
	balance decimal.NullDecimal
}

// Parse decodes the sheet, resolves the column mapping against the
// detected header row and builds one statement for the matching rows.
func (p *Parser) Parse(data []byte) ([]models.ParsedStatement, error) {
	records, err := readRecords(data, p.mapping.Delimiter)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, formats.NewFormatError(formatName, "sheet is empty")
	}

	idx, body, err := p.resolveHeader(records)
	if err != nil {
		return nil, err
	}

	var rows []row
	for _, record := range body {
		r, ok, err := p.parseRow(record, idx)
		if err != nil {
			return nil, err
		}
		if ok {
			rows = append(rows, r)
		}
	}
	if len(rows) == 0 {
		return nil, formats.NewValidationError(formatName, "sheet contains no rows for currency %s", p.targetCurrency)
	}

	// Source order is not trustworthy; balances are derived from the
	// chronologically first and last rows.
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].tx.Date.Before(rows[j].tx.Date) })

	stmt := models.ParsedStatement{
		CurrencyCode: p.targetCurrency,
		Date:         rows[len(rows)-1].tx.Date,
	}
	for i := range rows {
		rows[i].tx.Sequence = i + 1
		if stmt.AccountNumber == "" && idx.bankAccount != noColumn {
			stmt.AccountNumber = rows[i].tx.AccountNumber
		}
		stmt.Transactions = append(stmt.Transactions, rows[i].tx)
	}

	first, last := rows[0], rows[len(rows)-1]
	if first.balance.Valid && last.balance.Valid {
		stmt.BalanceStart = decimal.NewNullDecimal(first.balance.Decimal.Sub(first.tx.Amount))
		stmt.BalanceEnd = last.balance
	}
	return []models.ParsedStatement{stmt}, nil
}

// resolveHeader finds the header row (first row containing the mapped
// timestamp column) and returns the resolved indices plus the data rows.
func (p *Parser) resolveHeader(records [][]string) (columnIndexes, [][]string, error) {
	if p.mapping.NoHeader {
		idx, err := p.mapping.resolve(nil)
		return idx, records, err
	}
	for i, record := range records {
		if p.mapping.lookup(record, p.mapping.TimestampColumn) == noColumn {
			continue
		}
		idx, err := p.mapping.resolve(record)
		if err != nil {
			return columnIndexes{}, nil, err
		}
		return idx, records[i+1:], nil
	}
	return columnIndexes{}, nil, formats.NewFormatError(formatName, "no header row matching column %q", p.mapping.TimestampColumn)
}

func (p *Parser) parseRow(record []string, idx columnIndexes) (row, bool, error) {
	cell := func(i int) string {
		if i == noColumn || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	if cell(idx.timestamp) == "" {
		return row{}, false, nil
	}
	if idx.currency != noColumn && p.targetCurrency != "" {
		if ccy := strings.ToUpper(cell(idx.currency)); ccy != "" && ccy != p.targetCurrency {
			return row{}, false, nil
		}
	}

	date, err := time.Parse(p.mapping.TimestampFormat, cell(idx.timestamp))
	if err != nil {
		return row{}, false, formats.NewValidationError(formatName, "bad timestamp %q: %v", cell(idx.timestamp), err)
	}

	amount, err := p.rowAmount(cell, idx)
	if err != nil {
		return row{}, false, err
	}

	var descriptions []string
	for _, di := range idx.description {
		if cell(di) != "" {
			descriptions = append(descriptions, cell(di))
		}
	}

	tx := models.Transaction{
		Date:           date,
		Amount:         amount,
		PaymentRef:     strings.Join(descriptions, " "),
		Ref:            cell(idx.ref),
		UniqueImportID: cell(idx.txID),
		PartnerName:    cell(idx.partner),
		AccountNumber:  cell(idx.bankAccount),
	}
	if tx.PaymentRef == "" {
		tx.PaymentRef = tx.UniqueImportID
	}

	// Foreign-currency columns count only when they differ from the
	// statement currency.
	if origCcy := strings.ToUpper(cell(idx.origCcy)); origCcy != "" && origCcy != p.targetCurrency {
		if origAmt, err := p.parseDecimal(cell(idx.origAmount)); err == nil {
			tx.CurrencyCode = origCcy
			tx.AmountCurrency = origAmt
		}
	}

	r := row{tx: tx}
	if idx.balance != noColumn && cell(idx.balance) != "" {
		if bal, err := p.parseDecimal(cell(idx.balance)); err == nil {
			r.balance = decimal.NewNullDecimal(bal)
		}
	}
	return r, true, nil
}

func (p *Parser) rowAmount(cell func(int) string, idx columnIndexes) (decimal.Decimal, error) {
	if idx.amount != noColumn {
		amount, err := p.parseDecimal(cell(idx.amount))
		if err != nil {
			return decimal.Zero, formats.NewValidationError(formatName, "bad amount %q", cell(idx.amount))
		}
		// A designated marker column flips the sign for debit rows.
		if idx.debitCredit != noColumn && cell(idx.debitCredit) == p.mapping.DebitValue {
			amount = amount.Abs().Neg()
		}
		return amount, nil
	}

	if debit := cell(idx.debit); debit != "" {
		amount, err := p.parseDecimal(debit)
		if err != nil {
			return decimal.Zero, formats.NewValidationError(formatName, "bad debit amount %q", debit)
		}
		return amount.Abs().Neg(), nil
	}
	amount, err := p.parseDecimal(cell(idx.credit))
	if err != nil {
		return decimal.Zero, formats.NewValidationError(formatName, "bad credit amount %q", cell(idx.credit))
	}
	return amount.Abs(), nil
}

func (p *Parser) parseDecimal(s string) (decimal.Decimal, error) {
	if p.mapping.ThousandsSep != "" {
		s = strings.ReplaceAll(s, p.mapping.ThousandsSep, "")
	}
	if p.mapping.DecimalSep != "" && p.mapping.DecimalSep != "." {
		s = strings.Replace(s, p.mapping.DecimalSep, ".", 1)
	}
	return decimal.NewFromString(strings.TrimSpace(s))
}

// readRecords handles both encodings of the sheet: XLSX (detected by
// the zip magic) via excelize, everything else as delimited text.
func readRecords(data []byte, delimiter string) ([][]string, error) {
	if bytes.HasPrefix(data, xlsxMagic) {
		return readXLSX(data)
	}
	return readCSV(data, delimiter)
}

func readCSV(data []byte, delimiter string) ([][]string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	if delimiter != "" {
		reader.Comma = rune(delimiter[0])
	}
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, formats.NewFormatError(formatName, "input is not delimited text: %v", err)
		}
		records = append(records, record)
	}
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, formats.NewFormatError(formatName, "input is not a workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, formats.NewFormatError(formatName, "workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, formats.NewFormatError(formatName, "reading workbook rows: %v", err)
	}
	return rows, nil
}
