package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bankfeeds/backend/internal/dedup"
	"github.com/bankfeeds/backend/internal/models"
	"github.com/bankfeeds/backend/internal/normalize"
)

const paypalBaseURL = "https://api-m.paypal.com"

// PayPal pulls settled transactions from the PayPal reporting API. Each
// settlement record carries both the gross amount and the PayPal fee;
// non-zero fees are split into a separate statement line so the ledger
// sees the gross movement and the cost individually.
type PayPal struct {
	client *http.Client
}

// NewPayPal creates the PayPal adapter.
func NewPayPal(client *http.Client) *PayPal {
	return &PayPal{client: client}
}

func (p *PayPal) Name() string { return "paypal" }

type paypalTokenResponse struct {
	AccessToken string `json:"access_token"`
}

type paypalPage struct {
	TotalPages         int `json:"total_pages"`
	Page               int `json:"page"`
	TransactionDetails []struct {
		TransactionInfo struct {
			TransactionID             string       `json:"transaction_id"`
			TransactionInitiationDate string       `json:"transaction_initiation_date"`
			TransactionAmount         paypalAmount `json:"transaction_amount"`
			FeeAmount                 paypalAmount `json:"fee_amount"`
			TransactionSubject        string       `json:"transaction_subject"`
			TransactionNote           string       `json:"transaction_note"`
			InvoiceID                 string       `json:"invoice_id"`
		} `json:"transaction_info"`
		PayerInfo struct {
			PayerName struct {
				AlternateFullName string `json:"alternate_full_name"`
			} `json:"payer_name"`
		} `json:"payer_info"`
	} `json:"transaction_details"`
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

func (a paypalAmount) decimal() (decimal.Decimal, error) {
	if a.Value == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(a.Value)
}

// token exchanges the configured client credentials for an OAuth access
// token. Credential storage and refresh policy live outside the core.
func (p *PayPal) token(ctx context.Context, base string, conn Connection) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%s: building token request: %w", p.Name(), err)
	}
	req.SetBasicAuth(conn.Credentials["client_id"], conn.Credentials["client_secret"])
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", Transient(p.Name(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", Transient(p.Name(), fmt.Errorf("token endpoint returned %d", resp.StatusCode))
	}
	var tok paypalTokenResponse
	if err := jsonDecode(resp, &tok); err != nil {
		return "", Transient(p.Name(), err)
	}
	return tok.AccessToken, nil
}

func (p *PayPal) FetchTransactions(ctx context.Context, conn Connection, since, until time.Time) (models.ParsedStatement, error) {
	base := conn.BaseURL
	if base == "" {
		base = paypalBaseURL
	}
	token, err := p.token(ctx, base, conn)
	if err != nil {
		return models.ParsedStatement{}, err
	}
	headers := map[string]string{"Authorization": "Bearer " + token}

	stmt := models.ParsedStatement{
		CurrencyCode:  conn.Currency,
		AccountNumber: conn.AccountNumber,
	}

	seq := 0
	for page := 1; ; page++ {
		reqURL := fmt.Sprintf("%s/v1/reporting/transactions?start_date=%s&end_date=%s&fields=all&page_size=100&page=%d",
			base, url.QueryEscape(since.UTC().Format(time.RFC3339)), url.QueryEscape(until.UTC().Format(time.RFC3339)), page)
		var body paypalPage
		if err := doJSON(ctx, p.client, p.Name(), http.MethodGet, reqURL, headers, nil, &body); err != nil {
			return models.ParsedStatement{}, err
		}

		for _, detail := range body.TransactionDetails {
			info := detail.TransactionInfo
			when, err := normalize.ParseTimestamp(info.TransactionInitiationDate, time.UTC)
			if err != nil {
				return models.ParsedStatement{}, fmt.Errorf("%s: transaction %s: bad date: %w", p.Name(), info.TransactionID, err)
			}
			gross, err := info.TransactionAmount.decimal()
			if err != nil {
				return models.ParsedStatement{}, fmt.Errorf("%s: transaction %s: bad amount %q", p.Name(), info.TransactionID, info.TransactionAmount.Value)
			}
			fee, err := info.FeeAmount.decimal()
			if err != nil {
				return models.ParsedStatement{}, fmt.Errorf("%s: transaction %s: bad fee %q", p.Name(), info.TransactionID, info.FeeAmount.Value)
			}

			seq++
			label := normalize.PaymentRef(info.InvoiceID, info.TransactionSubject, info.TransactionNote, info.TransactionID)
			principal := models.Transaction{
				Date:           when,
				Amount:         gross,
				PaymentRef:     label,
				Ref:            info.InvoiceID,
				UniqueImportID: dedup.StreamImportID(info.TransactionID),
				PartnerName:    detail.PayerInfo.PayerName.AlternateFullName,
				Sequence:       seq,
			}
			if ccy := info.TransactionAmount.CurrencyCode; ccy != "" && conn.Currency != "" && ccy != conn.Currency {
				principal.CurrencyCode = ccy
				principal.AmountCurrency = gross
			}
			stmt.Transactions = append(stmt.Transactions, principal)

			if !fee.IsZero() {
				seq++
				stmt.Transactions = append(stmt.Transactions, feeLine(principal, fee, seq))
			}
		}

		if body.TotalPages == 0 || page >= body.TotalPages {
			break
		}
	}
	return stmt, nil
}

// feeLine builds the companion fee transaction for a settlement record.
// Its import id differs from the principal's only by the fixed -FEE
// suffix, and principal + fee always equals the provider's net effect.
func feeLine(principal models.Transaction, fee decimal.Decimal, seq int) models.Transaction {
	return models.Transaction{
		Date:           principal.Date,
		Amount:         fee,
		PaymentRef:     "Fee for " + principal.PaymentRef,
		Ref:            principal.Ref,
		UniqueImportID: dedup.FeeImportID(principal.UniqueImportID),
		Narration:      "Transaction fee",
		Sequence:       seq,
	}
}
