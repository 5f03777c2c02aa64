// Package mt940 parses SWIFT MT940 customer statement telegrams.
package mt940

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bankfeeds/backend/internal/formats"
	"github.com/bankfeeds/backend/internal/models"
)

const formatName = "mt940"

var (
	blockRe  = regexp.MustCompile(`(?s)\{4:(.*?)-?\}`)
	headerRe = regexp.MustCompile(`^(\{1:|\{4:|:940:|:20:)`)
	tagRe    = regexp.MustCompile(`^:(\d{2}[A-Z]?):(.*)$`)
	// :60F: / :62F: payload, e.g. C240101EUR1000,00
	balanceRe = regexp.MustCompile(`^([CD])(\d{6})([A-Z]{3})([\d,]+)$`)
	// :61: payload, e.g. 2401150115C50,00NTRFNONREF//BANKREF
	transactionRe = regexp.MustCompile(`^(\d{6})(\d{4})?(R?[CD])([\d,]+)(N[A-Z0-9]{3})?(.*)$`)
)

// Parser implements formats.Parser for MT940 telegram text.
type Parser struct{}

// New creates an MT940 parser.
func New() *Parser {
	return &Parser{}
}

func (p *Parser) Name() string { return formatName }

// Parse splits the input into per-statement blocks and feeds each block
// through the tag dispatch table.
func (p *Parser) Parse(data []byte) ([]models.ParsedStatement, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	blocks, err := splitBlocks(text)
	if err != nil {
		return nil, err
	}

	stmts := make([]models.ParsedStatement, 0, len(blocks))
	for _, block := range blocks {
		stmt, err := parseBlock(block)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

// splitBlocks extracts `{4: ... }` statement blocks. Non-standard
// batched exports without the SWIFT envelope are split on `:20:` lines
// and re-wrapped as individual blocks.
func splitBlocks(text string) ([]string, error) {
	trimmed := strings.TrimSpace(text)
	if !headerRe.MatchString(trimmed) {
		return nil, formats.NewFormatError(formatName, "missing MT940 header")
	}

	if m := blockRe.FindAllStringSubmatch(text, -1); len(m) > 0 {
		blocks := make([]string, 0, len(m))
		for _, sub := range m {
			blocks = append(blocks, strings.TrimSpace(sub[1]))
		}
		return blocks, nil
	}

	if !strings.Contains(text, ":20:") {
		return nil, formats.NewFormatError(formatName, "no statement blocks found")
	}
	var blocks []string
	var current []string
	for _, line := range strings.Split(trimmed, "\n") {
		if strings.HasPrefix(line, ":20:") && len(current) > 0 {
			blocks = append(blocks, strings.Join(current, "\n"))
			current = nil
		}
		if strings.HasPrefix(line, ":940:") {
			continue
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		blocks = append(blocks, strings.Join(current, "\n"))
	}
	return blocks, nil
}

// parseState carries the statement being built plus the record currently
// being accumulated across continuation lines.
type parseState struct {
	stmt    models.ParsedStatement
	lastTag string
	buf     []string
	seq     int
}

type tagHandler func(*parseState, string) error

// Explicit dispatch table; tags 20, 28C, 64 and 65 are recognised but
// carry nothing the statement model needs.
var tagHandlers = map[string]tagHandler{
	"20":  func(*parseState, string) error { return nil },
	"25":  handleAccount,
	"28C": func(*parseState, string) error { return nil },
	"60F": handleOpeningBalance,
	"60M": handleOpeningBalance,
	"61":  handleTransaction,
	"62F": handleClosingBalance,
	"62M": handleClosingBalance,
	"64":  func(*parseState, string) error { return nil },
	"65":  func(*parseState, string) error { return nil },
	"86":  handleFreeText,
}

func parseBlock(block string) (models.ParsedStatement, error) {
	st := &parseState{}
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimRight(line, "\r ")
		if line == "" || line == "-" || strings.HasPrefix(line, "-}") {
			continue
		}
		if m := tagRe.FindStringSubmatch(line); m != nil {
			if err := st.flush(); err != nil {
				return models.ParsedStatement{}, err
			}
			st.lastTag = m[1]
			st.buf = []string{m[2]}
			continue
		}
		// Continuation of the current record.
		if st.lastTag != "" {
			st.buf = append(st.buf, line)
		}
	}
	if err := st.flush(); err != nil {
		return models.ParsedStatement{}, err
	}
	return st.stmt, nil
}

func (st *parseState) flush() error {
	if st.lastTag == "" {
		return nil
	}
	handler, ok := tagHandlers[st.lastTag]
	tag, value := st.lastTag, strings.Join(st.buf, "\n")
	st.lastTag, st.buf = "", nil
	if !ok {
		return formats.NewValidationError(formatName, "unknown tag :%s:", tag)
	}
	return handler(st, value)
}

func handleAccount(st *parseState, value string) error {
	// Some banks append the currency after a slash, e.g. NL99BANK.../EUR.
	account := strings.TrimSpace(value)
	if idx := strings.LastIndex(account, "/"); idx > 0 && len(account)-idx == 4 {
		account = account[:idx]
	}
	st.stmt.AccountNumber = account
	return nil
}

func handleOpeningBalance(st *parseState, value string) error {
	amount, _, currency, err := parseBalance(value)
	if err != nil {
		return err
	}
	st.stmt.BalanceStart = decimal.NewNullDecimal(amount)
	st.stmt.CurrencyCode = currency
	return nil
}

func handleClosingBalance(st *parseState, value string) error {
	amount, date, _, err := parseBalance(value)
	if err != nil {
		return err
	}
	st.stmt.BalanceEnd = decimal.NewNullDecimal(amount)
	st.stmt.Date = date
	st.stmt.Name = statementName(st.stmt.Name, st.stmt.AccountNumber, date)
	return nil
}

func handleTransaction(st *parseState, value string) error {
	first, _, _ := strings.Cut(value, "\n")
	m := transactionRe.FindStringSubmatch(strings.TrimSpace(first))
	if m == nil {
		return formats.NewValidationError(formatName, "malformed :61: record %q", first)
	}
	date, err := time.Parse("060102", m[1])
	if err != nil {
		return formats.NewValidationError(formatName, "bad date in :61: record %q", first)
	}
	amount, err := parseAmount(m[4])
	if err != nil {
		return formats.NewValidationError(formatName, "bad amount in :61: record %q", first)
	}
	// D = debit, RC = reversal of a credit; both reduce the balance.
	if m[3] == "D" || m[3] == "RC" {
		amount = amount.Neg()
	}

	st.seq++
	reference := strings.TrimSpace(m[6])
	if ref, _, found := strings.Cut(reference, "//"); found {
		reference = strings.TrimSpace(ref)
	}
	if strings.EqualFold(reference, "NONREF") {
		reference = ""
	}
	st.stmt.Transactions = append(st.stmt.Transactions, models.Transaction{
		Date:       date,
		Amount:     amount,
		PaymentRef: reference,
		Ref:        reference,
		Sequence:   st.seq,
	})
	return nil
}

// statementName synthesizes the statement name from the local account
// number and the closing-balance date, keeping names that already carry
// the account number as-is.
func statementName(current, account string, date time.Time) string {
	if account == "" {
		return current
	}
	if strings.HasPrefix(current, account) {
		return current
	}
	return account + "-" + date.Format("2006-01-02")
}

func parseBalance(value string) (decimal.Decimal, time.Time, string, error) {
	m := balanceRe.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return decimal.Zero, time.Time{}, "", formats.NewValidationError(formatName, "malformed balance record %q", value)
	}
	date, err := time.Parse("060102", m[2])
	if err != nil {
		return decimal.Zero, time.Time{}, "", formats.NewValidationError(formatName, "bad date in balance record %q", value)
	}
	amount, err := parseAmount(m[4])
	if err != nil {
		return decimal.Zero, time.Time{}, "", formats.NewValidationError(formatName, "bad amount in balance record %q", value)
	}
	if m[1] == "D" {
		amount = amount.Neg()
	}
	return amount, date, m[3], nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.Replace(s, ",", ".", 1)
	s = strings.TrimSuffix(s, ".")
	return decimal.NewFromString(s)
}
