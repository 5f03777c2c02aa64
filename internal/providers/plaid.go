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

const plaidBaseURL = "https://production.plaid.com"

// Plaid pulls transactions through /transactions/get with offset
// pagination. Plaid reports outflows as positive amounts, so the sign
// is flipped to match statement convention (debits negative).
type Plaid struct {
	client *http.Client
}

// NewPlaid creates the Plaid adapter.
func NewPlaid(client *http.Client) *Plaid {
	return &Plaid{client: client}
}

func (p *Plaid) Name() string { return "plaid" }

type plaidPage struct {
	TotalTransactions int `json:"total_transactions"`
	Transactions      []struct {
		TransactionID  string          `json:"transaction_id"`
		AccountID      string          `json:"account_id"`
		Date           string          `json:"date"`
		Name           string          `json:"name"`
		MerchantName   string          `json:"merchant_name"`
		Amount         decimal.Decimal `json:"amount"`
		IsoCurrency    string          `json:"iso_currency_code"`
		Pending        bool            `json:"pending"`
		PaymentMeta    struct {
			ReferenceNumber string `json:"reference_number"`
		} `json:"payment_meta"`
	} `json:"transactions"`
}

func (p *Plaid) FetchTransactions(ctx context.Context, conn Connection, since, until time.Time) (models.ParsedStatement, error) {
	base := conn.BaseURL
	if base == "" {
		base = plaidBaseURL
	}

	stmt := models.ParsedStatement{
		CurrencyCode:  conn.Currency,
		AccountNumber: conn.AccountNumber,
	}

	seq := 0
	offset := 0
	for {
		payload := map[string]any{
			"client_id":    conn.Credentials["client_id"],
			"secret":       conn.Credentials["secret"],
			"access_token": conn.Credentials["access_token"],
			"start_date":   since.UTC().Format("2006-01-02"),
			"end_date":     until.UTC().Format("2006-01-02"),
			"options": map[string]any{
				"account_ids": []string{conn.AccountID},
				"count":       100,
				"offset":      offset,
			},
		}
		var body plaidPage
		if err := doJSON(ctx, p.client, p.Name(), http.MethodPost, base+"/transactions/get", nil, payload, &body); err != nil {
			return models.ParsedStatement{}, err
		}

		for _, item := range body.Transactions {
			if item.Pending {
				continue
			}
			when, err := normalize.ParseTimestamp(item.Date, time.UTC)
			if err != nil {
				return models.ParsedStatement{}, fmt.Errorf("%s: transaction %s: bad date: %w", p.Name(), item.TransactionID, err)
			}
			if when.Before(since) || !when.Before(until) {
				continue
			}

			amount := item.Amount.Neg()
			seq++
			tx := models.Transaction{
				Date:           when,
				Amount:         amount,
				PaymentRef:     normalize.PaymentRef(item.Name, item.MerchantName, "", item.TransactionID),
				Ref:            item.PaymentMeta.ReferenceNumber,
				UniqueImportID: dedup.StreamImportID(item.TransactionID),
				PartnerName:    item.MerchantName,
				Sequence:       seq,
			}
			if item.IsoCurrency != "" && conn.Currency != "" && item.IsoCurrency != conn.Currency {
				tx.CurrencyCode = item.IsoCurrency
				tx.AmountCurrency = amount
			}
			stmt.Transactions = append(stmt.Transactions, tx)
		}

		offset += len(body.Transactions)
		if offset >= body.TotalTransactions || len(body.Transactions) == 0 {
			break
		}
	}
	return stmt, nil
}
