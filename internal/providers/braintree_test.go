package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBraintreeCursorPaginationAndFee(t *testing.T) {
	var cursors []any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/graphql", r.URL.Path)
		assert.Equal(t, "2019-01-01", r.Header.Get("Braintree-Version"))
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "pub", user)
		assert.Equal(t, "priv", pass)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		after := payload["variables"].(map[string]any)["after"]
		cursors = append(cursors, after)

		if after == nil {
			fmt.Fprint(w, `{
				"data": {"search": {"transactions": {
					"pageInfo": {"hasNextPage": true, "endCursor": "cur-1"},
					"edges": [{"node": {
						"legacyId": "BT-1",
						"orderId": "ORD-7",
						"createdAt": "2024-05-04T12:00:00Z",
						"amount": {"value": "80.00", "currencyCode": "EUR"},
						"merchantFee": {"value": "2.62"},
						"customer": {"firstName": "Jane", "lastName": "Smith"}
					}}]
				}}}
			}`)
			return
		}
		assert.Equal(t, "cur-1", after)
		fmt.Fprint(w, `{
			"data": {"search": {"transactions": {
				"pageInfo": {"hasNextPage": false, "endCursor": ""},
				"edges": [{"node": {
					"legacyId": "BT-2",
					"createdAt": "2024-05-05T12:00:00Z",
					"amount": {"value": "15.00", "currencyCode": "EUR"},
					"merchantFee": {"value": "0"},
					"customer": {}
				}}]
			}}}
		}`)
	}))
	defer srv.Close()

	conn := testConn("braintree", srv.URL, map[string]string{"public_key": "pub", "private_key": "priv"})
	since, until := testWindow()

	stmt, err := NewBraintree(srv.Client()).FetchTransactions(context.Background(), conn, since, until)
	require.NoError(t, err)

	assert.Equal(t, []any{nil, "cur-1"}, cursors)
	require.Len(t, stmt.Transactions, 3)

	principal, fee := stmt.Transactions[0], stmt.Transactions[1]
	assert.Equal(t, "BT-1", principal.UniqueImportID)
	assert.True(t, principal.Amount.Equal(decimal.RequireFromString("80.00")))
	assert.Equal(t, "ORD-7", principal.PaymentRef)
	assert.Equal(t, "Jane Smith", principal.PartnerName)

	assert.Equal(t, "BT-1-FEE", fee.UniqueImportID)
	assert.True(t, fee.Amount.Equal(decimal.RequireFromString("-2.62")))
	assert.True(t, principal.Amount.Add(fee.Amount).Equal(decimal.RequireFromString("77.38")))

	assert.Equal(t, "BT-2", stmt.Transactions[2].UniqueImportID)
}

func TestBraintreeGraphQLErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errors": [{"message": "authentication failed"}]}`)
	}))
	defer srv.Close()

	conn := testConn("braintree", srv.URL, map[string]string{})
	since, until := testWindow()
	_, err := NewBraintree(srv.Client()).FetchTransactions(context.Background(), conn, since, until)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Contains(t, err.Error(), "authentication failed")
}
