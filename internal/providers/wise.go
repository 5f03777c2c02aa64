package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bankfeeds/backend/internal/dedup"
	"github.com/bankfeeds/backend/internal/models"
	"github.com/bankfeeds/backend/internal/normalize"
)

const wiseBaseURL = "https://api.transferwise.com"

// Wise pulls balance statements from the Wise (TransferWise) API. The
// statement endpoint returns a complete window at once; the declared
// fee is carved out of each transaction into its own line so the
// principal shows the gross transfer.
type Wise struct {
	client *http.Client
}

// NewWise creates the Wise adapter.
func NewWise(client *http.Client) *Wise {
	return &Wise{client: client}
}

func (w *Wise) Name() string { return "transferwise" }

type wiseStatement struct {
	EndOfStatementBalance struct {
		Value decimal.Decimal `json:"value"`
	} `json:"endOfStatementBalance"`
	Transactions []struct {
		Type            string `json:"type"`
		Date            string `json:"date"`
		ReferenceNumber string `json:"referenceNumber"`
		Amount          struct {
			Value    decimal.Decimal `json:"value"`
			Currency string          `json:"currency"`
		} `json:"amount"`
		TotalFees struct {
			Value decimal.Decimal `json:"value"`
		} `json:"totalFees"`
		Details struct {
			Description      string `json:"description"`
			PaymentReference string `json:"paymentReference"`
			SenderName       string `json:"senderName"`
			SenderAccount    string `json:"senderAccount"`
			Recipient        struct {
				Name        string `json:"name"`
				BankAccount string `json:"bankAccount"`
			} `json:"recipient"`
		} `json:"details"`
		ExchangeDetails *struct {
			FromAmount struct {
				Value    decimal.Decimal `json:"value"`
				Currency string          `json:"currency"`
			} `json:"fromAmount"`
		} `json:"exchangeDetails"`
	} `json:"transactions"`
}

func (w *Wise) FetchTransactions(ctx context.Context, conn Connection, since, until time.Time) (models.ParsedStatement, error) {
	base := conn.BaseURL
	if base == "" {
		base = wiseBaseURL
	}
	headers := map[string]string{"Authorization": "Bearer " + conn.Credentials["api_token"]}

	reqURL := fmt.Sprintf("%s/v3/profiles/%s/borderless-accounts/%s/statement.json?currency=%s&intervalStart=%s&intervalEnd=%s",
		base, conn.Credentials["profile_id"], conn.AccountID, conn.Currency,
		since.UTC().Format(time.RFC3339), until.UTC().Format(time.RFC3339))

	var body wiseStatement
	if err := doJSON(ctx, w.client, w.Name(), http.MethodGet, reqURL, headers, nil, &body); err != nil {
		return models.ParsedStatement{}, err
	}

	stmt := models.ParsedStatement{
		CurrencyCode:  conn.Currency,
		AccountNumber: conn.AccountNumber,
		BalanceEnd:    decimal.NewNullDecimal(body.EndOfStatementBalance.Value),
	}

	seq := 0
	for _, item := range body.Transactions {
		when, err := normalize.ParseTimestamp(item.Date, time.UTC)
		if err != nil {
			return models.ParsedStatement{}, fmt.Errorf("%s: transaction %s: bad date: %w", w.Name(), item.ReferenceNumber, err)
		}

		// amount.value is the net balance effect with the fee already
		// deducted; totalFees is the positive fee portion.
		net := item.Amount.Value
		fee := item.TotalFees.Value.Abs()
		principalAmount := net
		if !fee.IsZero() {
			principalAmount = net.Add(fee)
		}

		seq++
		principal := models.Transaction{
			Date:           when,
			Amount:         principalAmount,
			PaymentRef:     normalize.PaymentRef(item.Details.PaymentReference, item.Details.Description, item.Type, item.ReferenceNumber),
			Ref:            item.ReferenceNumber,
			UniqueImportID: dedup.StreamImportID(item.ReferenceNumber),
			Sequence:       seq,
		}
		if item.Amount.Value.IsNegative() {
			principal.PartnerName = item.Details.Recipient.Name
			principal.AccountNumber = item.Details.Recipient.BankAccount
		} else {
			principal.PartnerName = item.Details.SenderName
			principal.AccountNumber = item.Details.SenderAccount
		}
		if ex := item.ExchangeDetails; ex != nil && ex.FromAmount.Currency != "" && ex.FromAmount.Currency != conn.Currency {
			principal.CurrencyCode = ex.FromAmount.Currency
			principal.AmountCurrency = ex.FromAmount.Value
		}
		stmt.Transactions = append(stmt.Transactions, principal)

		if !fee.IsZero() {
			seq++
			stmt.Transactions = append(stmt.Transactions, feeLine(principal, fee.Neg(), seq))
		}
	}

	if stmt.BalanceEnd.Valid {
		stmt.BalanceStart = decimal.NewNullDecimal(stmt.BalanceEnd.Decimal.Sub(stmt.TransactionTotal()))
	}
	return stmt, nil
}
