package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bankfeeds/backend/internal/dedup"
	"github.com/bankfeeds/backend/internal/models"
	"github.com/bankfeeds/backend/internal/normalize"
)

const pontoBaseURL = "https://api.myponto.com"

// Ponto pulls account transactions from the Ponto aggregation API.
// Pages are chained through the `links.next` relation and arrive
// newest-first; source order is preserved.
type Ponto struct {
	client *http.Client
}

// NewPonto creates the Ponto adapter.
func NewPonto(client *http.Client) *Ponto {
	return &Ponto{client: client}
}

func (p *Ponto) Name() string { return "ponto" }

type pontoPage struct {
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
	Data []struct {
		ID         string `json:"id"`
		Attributes struct {
			ValueDate             string      `json:"valueDate"`
			ExecutionDate         string      `json:"executionDate"`
			Amount                json.Number `json:"amount"`
			Currency              string      `json:"currency"`
			CounterpartName       string      `json:"counterpartName"`
			CounterpartReference  string      `json:"counterpartReference"`
			RemittanceInformation string      `json:"remittanceInformation"`
			Description           string      `json:"description"`
			EndToEndID            string      `json:"endToEndId"`
		} `json:"attributes"`
	} `json:"data"`
}

func (p *Ponto) FetchTransactions(ctx context.Context, conn Connection, since, until time.Time) (models.ParsedStatement, error) {
	base := conn.BaseURL
	if base == "" {
		base = pontoBaseURL
	}
	headers := map[string]string{"Authorization": "Bearer " + conn.Credentials["access_token"]}

	stmt := models.ParsedStatement{
		CurrencyCode:  conn.Currency,
		AccountNumber: conn.AccountNumber,
	}

	url := fmt.Sprintf("%s/accounts/%s/transactions?limit=100", base, conn.AccountID)
	seq := 0
	for url != "" {
		var page pontoPage
		if err := doJSON(ctx, p.client, p.Name(), http.MethodGet, url, headers, nil, &page); err != nil {
			return models.ParsedStatement{}, err
		}
		for _, item := range page.Data {
			attrs := item.Attributes
			when, err := normalize.ParseTimestamp(firstOf(attrs.ValueDate, attrs.ExecutionDate), time.UTC)
			if err != nil {
				return models.ParsedStatement{}, fmt.Errorf("%s: transaction %s: bad date: %w", p.Name(), item.ID, err)
			}
			if when.Before(since) || !when.Before(until) {
				continue
			}
			amount, err := decimal.NewFromString(attrs.Amount.String())
			if err != nil {
				return models.ParsedStatement{}, fmt.Errorf("%s: transaction %s: bad amount %q", p.Name(), item.ID, attrs.Amount)
			}
			seq++
			tx := models.Transaction{
				Date:           when,
				Amount:         amount,
				PaymentRef:     normalize.PaymentRef(attrs.RemittanceInformation, attrs.Description, "", item.ID),
				Ref:            attrs.EndToEndID,
				UniqueImportID: dedup.StreamImportID(item.ID),
				PartnerName:    attrs.CounterpartName,
				AccountNumber:  attrs.CounterpartReference,
				Sequence:       seq,
			}
			if attrs.Currency != "" && conn.Currency != "" && attrs.Currency != conn.Currency {
				tx.CurrencyCode = attrs.Currency
				tx.AmountCurrency = amount
			}
			stmt.Transactions = append(stmt.Transactions, tx)
		}
		url = page.Links.Next
	}
	return stmt, nil
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
