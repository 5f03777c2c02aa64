package sheet

import (
	"strconv"
	"strings"

	"github.com/bankfeeds/backend/internal/formats"
)

// Mapping declares how sheet columns map onto transaction fields. Column
// values name header cells; in files without a header row they are
// zero-based column indices instead ("0", "3", ...). DescriptionColumn
// accepts a comma-separated list whose cells are concatenated.
type Mapping struct {
	TimestampColumn        string `json:"timestamp_column" mapstructure:"timestamp_column" validate:"required"`
	TimestampFormat        string `json:"timestamp_format" mapstructure:"timestamp_format" validate:"required"`
	AmountColumn           string `json:"amount_column" mapstructure:"amount_column" validate:"required_without_all=DebitColumn DebitCreditColumn"`
	DebitColumn            string `json:"debit_column" mapstructure:"debit_column"`
	CreditColumn           string `json:"credit_column" mapstructure:"credit_column" validate:"required_with=DebitColumn"`
	DebitCreditColumn      string `json:"debit_credit_column" mapstructure:"debit_credit_column"`
	DebitValue             string `json:"debit_value" mapstructure:"debit_value"`
	BalanceColumn          string `json:"balance_column" mapstructure:"balance_column"`
	CurrencyColumn         string `json:"currency_column" mapstructure:"currency_column"`
	OriginalAmountColumn   string `json:"original_amount_column" mapstructure:"original_amount_column"`
	OriginalCurrencyColumn string `json:"original_currency_column" mapstructure:"original_currency_column"`
	TransactionIDColumn    string `json:"transaction_id_column" mapstructure:"transaction_id_column"`
	DescriptionColumn      string `json:"description_column" mapstructure:"description_column"`
	PartnerColumn          string `json:"partner_column" mapstructure:"partner_column"`
	BankAccountColumn      string `json:"bank_account_column" mapstructure:"bank_account_column"`
	RefColumn              string `json:"ref_column" mapstructure:"ref_column"`

	Delimiter    string `json:"delimiter" mapstructure:"delimiter"`
	ThousandsSep string `json:"thousands_sep" mapstructure:"thousands_sep"`
	DecimalSep   string `json:"decimal_sep" mapstructure:"decimal_sep"`
	NoHeader     bool   `json:"no_header" mapstructure:"no_header"`
}

// columnIndexes is the per-invocation resolution of a Mapping against
// one concrete header row. It is built fresh on every parse so no state
// leaks between files.
type columnIndexes struct {
	timestamp   int
	amount      int
	debit       int
	credit      int
	debitCredit int
	balance     int
	currency    int
	origAmount  int
	origCcy     int
	txID        int
	description []int
	partner     int
	bankAccount int
	ref         int
}

const noColumn = -1

// resolve maps every configured column name to its index in the header
// row. A missing required column is a FormatError: the file simply is
// not the sheet this mapping describes.
func (m Mapping) resolve(header []string) (columnIndexes, error) {
	idx := columnIndexes{
		timestamp: noColumn, amount: noColumn, debit: noColumn, credit: noColumn,
		debitCredit: noColumn, balance: noColumn, currency: noColumn,
		origAmount: noColumn, origCcy: noColumn, txID: noColumn,
		partner: noColumn, bankAccount: noColumn, ref: noColumn,
	}

	required := func(name string) (int, error) {
		i := m.lookup(header, name)
		if i == noColumn {
			return 0, formats.NewFormatError(formatName, "required column %q not found in header", name)
		}
		return i, nil
	}
	optional := func(name string) int {
		if name == "" {
			return noColumn
		}
		return m.lookup(header, name)
	}

	var err error
	if idx.timestamp, err = required(m.TimestampColumn); err != nil {
		return idx, err
	}
	switch {
	case m.AmountColumn != "":
		if idx.amount, err = required(m.AmountColumn); err != nil {
			return idx, err
		}
	case m.DebitColumn != "":
		if idx.debit, err = required(m.DebitColumn); err != nil {
			return idx, err
		}
		if idx.credit, err = required(m.CreditColumn); err != nil {
			return idx, err
		}
	default:
		return idx, formats.NewValidationError(formatName, "mapping declares neither an amount column nor a debit/credit pair")
	}
	if m.DebitCreditColumn != "" {
		if idx.debitCredit, err = required(m.DebitCreditColumn); err != nil {
			return idx, err
		}
	}

	idx.balance = optional(m.BalanceColumn)
	idx.currency = optional(m.CurrencyColumn)
	idx.origAmount = optional(m.OriginalAmountColumn)
	idx.origCcy = optional(m.OriginalCurrencyColumn)
	idx.txID = optional(m.TransactionIDColumn)
	idx.partner = optional(m.PartnerColumn)
	idx.bankAccount = optional(m.BankAccountColumn)
	idx.ref = optional(m.RefColumn)

	for _, part := range splitColumns(m.DescriptionColumn) {
		if i := m.lookup(header, part); i != noColumn {
			idx.description = append(idx.description, i)
		}
	}
	return idx, nil
}

func (m Mapping) lookup(header []string, name string) int {
	if m.NoHeader {
		if i, err := strconv.Atoi(name); err == nil && i >= 0 {
			return i
		}
		return noColumn
	}
	for i, cell := range header {
		if strings.EqualFold(strings.TrimSpace(cell), strings.TrimSpace(name)) {
			return i
		}
	}
	return noColumn
}

func splitColumns(spec string) []string {
	if spec == "" {
		return nil
	}
	parts := strings.Split(spec, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, strings.TrimSpace(p))
		}
	}
	return out
}
