package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paypalFixtureServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "cid", user)
		assert.Equal(t, "csecret", pass)
		fmt.Fprint(w, `{"access_token":"tok-123"}`)
	})

	mux.HandleFunc("/v1/reporting/transactions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		switch r.URL.Query().Get("page") {
		case "1":
			fmt.Fprint(w, `{
				"total_pages": 2, "page": 1,
				"transaction_details": [{
					"transaction_info": {
						"transaction_id": "PP-1",
						"transaction_initiation_date": "2024-05-02T10:00:00Z",
						"transaction_amount": {"currency_code": "EUR", "value": "100.00"},
						"fee_amount": {"currency_code": "EUR", "value": "-3.50"},
						"invoice_id": "INV-9"
					},
					"payer_info": {"payer_name": {"alternate_full_name": "Acme BV"}}
				}]
			}`)
		case "2":
			fmt.Fprint(w, `{
				"total_pages": 2, "page": 2,
				"transaction_details": [{
					"transaction_info": {
						"transaction_id": "PP-2",
						"transaction_initiation_date": "2024-05-03T09:00:00Z",
						"transaction_amount": {"currency_code": "EUR", "value": "-40.00"},
						"fee_amount": {"currency_code": "EUR", "value": "0.00"},
						"transaction_subject": "refund"
					},
					"payer_info": {"payer_name": {}}
				}]
			}`)
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPayPalFeeSplitAndPagination(t *testing.T) {
	srv := paypalFixtureServer(t)
	conn := testConn("paypal", srv.URL, map[string]string{"client_id": "cid", "client_secret": "csecret"})
	since, until := testWindow()

	stmt, err := NewPayPal(srv.Client()).FetchTransactions(context.Background(), conn, since, until)
	require.NoError(t, err)

	// page 1 record splits into principal + fee, page 2 record does not
	require.Len(t, stmt.Transactions, 3)

	principal, fee, refund := stmt.Transactions[0], stmt.Transactions[1], stmt.Transactions[2]

	assert.Equal(t, "PP-1", principal.UniqueImportID)
	assert.True(t, principal.Amount.Equal(decimal.RequireFromString("100.00")))
	assert.Equal(t, "INV-9", principal.PaymentRef)
	assert.Equal(t, "Acme BV", principal.PartnerName)

	assert.Equal(t, "PP-1-FEE", fee.UniqueImportID)
	assert.True(t, fee.Amount.Equal(decimal.RequireFromString("-3.50")))
	assert.Equal(t, "Fee for INV-9", fee.PaymentRef)
	assert.True(t, fee.Date.Equal(principal.Date))

	// principal + fee equals the provider's net effect
	assert.True(t, principal.Amount.Add(fee.Amount).Equal(decimal.RequireFromString("96.50")))

	assert.Equal(t, "PP-2", refund.UniqueImportID)
	assert.True(t, refund.Amount.Equal(decimal.RequireFromString("-40.00")))
	assert.Equal(t, "refund", refund.PaymentRef)

	assert.Equal(t, []int{1, 2, 3}, []int{principal.Sequence, fee.Sequence, refund.Sequence})
}

func TestPayPalFeeSplitIsDeterministic(t *testing.T) {
	srv := paypalFixtureServer(t)
	conn := testConn("paypal", srv.URL, map[string]string{"client_id": "cid", "client_secret": "csecret"})
	since, until := testWindow()

	p := NewPayPal(srv.Client())
	first, err := p.FetchTransactions(context.Background(), conn, since, until)
	require.NoError(t, err)
	second, err := p.FetchTransactions(context.Background(), conn, since, until)
	require.NoError(t, err)

	require.Equal(t, len(first.Transactions), len(second.Transactions))
	for i := range first.Transactions {
		assert.Equal(t, first.Transactions[i].UniqueImportID, second.Transactions[i].UniqueImportID)
	}
}

func TestPayPalTokenFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	conn := testConn("paypal", srv.URL, map[string]string{"client_id": "bad", "client_secret": "bad"})
	since, until := testWindow()
	_, err := NewPayPal(srv.Client()).FetchTransactions(context.Background(), conn, since, until)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}
