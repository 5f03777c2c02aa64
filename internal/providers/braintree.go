package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bankfeeds/backend/internal/dedup"
	"github.com/bankfeeds/backend/internal/models"
	"github.com/bankfeeds/backend/internal/normalize"
)

const braintreeBaseURL = "https://payments.braintree-api.com"

// Braintree pulls settled transactions through the Braintree GraphQL
// API, paginating with the search cursor. Settlements report the gross
// amount and the merchant fee together; the fee becomes its own line.
type Braintree struct {
	client *http.Client
}

// NewBraintree creates the Braintree adapter.
func NewBraintree(client *http.Client) *Braintree {
	return &Braintree{client: client}
}

func (b *Braintree) Name() string { return "braintree" }

const braintreeQuery = `query Search($input: TransactionSearchInput!, $after: String) {
  search {
    transactions(input: $input, first: 50, after: $after) {
      pageInfo { hasNextPage endCursor }
      edges {
        node {
          legacyId
          orderId
          createdAt
          amount { value currencyCode }
          merchantFee { value }
          customer { firstName lastName }
        }
      }
    }
  }
}`

type braintreeResponse struct {
	Data struct {
		Search struct {
			Transactions struct {
				PageInfo struct {
					HasNextPage bool   `json:"hasNextPage"`
					EndCursor   string `json:"endCursor"`
				} `json:"pageInfo"`
				Edges []struct {
					Node struct {
						LegacyID  string `json:"legacyId"`
						OrderID   string `json:"orderId"`
						CreatedAt string `json:"createdAt"`
						Amount    struct {
							Value        decimal.Decimal `json:"value"`
							CurrencyCode string          `json:"currencyCode"`
						} `json:"amount"`
						MerchantFee struct {
							Value decimal.Decimal `json:"value"`
						} `json:"merchantFee"`
						Customer struct {
							FirstName string `json:"firstName"`
							LastName  string `json:"lastName"`
						} `json:"customer"`
					} `json:"node"`
				} `json:"edges"`
			} `json:"transactions"`
		} `json:"search"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (b *Braintree) FetchTransactions(ctx context.Context, conn Connection, since, until time.Time) (models.ParsedStatement, error) {
	base := conn.BaseURL
	if base == "" {
		base = braintreeBaseURL
	}
	auth := base64.StdEncoding.EncodeToString([]byte(conn.Credentials["public_key"] + ":" + conn.Credentials["private_key"]))
	headers := map[string]string{
		"Authorization":     "Basic " + auth,
		"Braintree-Version": "2019-01-01",
	}

	stmt := models.ParsedStatement{
		CurrencyCode:  conn.Currency,
		AccountNumber: conn.AccountNumber,
	}

	seq := 0
	after := ""
	for {
		payload := map[string]any{
			"query": braintreeQuery,
			"variables": map[string]any{
				"input": map[string]any{
					"createdAt": map[string]string{
						"greaterThanOrEqualTo": since.UTC().Format(time.RFC3339),
						"lessThan":             until.UTC().Format(time.RFC3339),
					},
					"status": map[string]any{"in": []string{"SETTLED"}},
				},
				"after": orNil(after),
			},
		}
		var body braintreeResponse
		if err := doJSON(ctx, b.client, b.Name(), http.MethodPost, base+"/graphql", headers, payload, &body); err != nil {
			return models.ParsedStatement{}, err
		}
		if len(body.Errors) > 0 {
			return models.ParsedStatement{}, Transient(b.Name(), fmt.Errorf("graphql error: %s", body.Errors[0].Message))
		}

		page := body.Data.Search.Transactions
		for _, edge := range page.Edges {
			node := edge.Node
			when, err := normalize.ParseTimestamp(node.CreatedAt, time.UTC)
			if err != nil {
				return models.ParsedStatement{}, fmt.Errorf("%s: transaction %s: bad date: %w", b.Name(), node.LegacyID, err)
			}

			seq++
			principal := models.Transaction{
				Date:           when,
				Amount:         node.Amount.Value,
				PaymentRef:     normalize.PaymentRef(node.OrderID, "", "", node.LegacyID),
				Ref:            node.OrderID,
				UniqueImportID: dedup.StreamImportID(node.LegacyID),
				PartnerName:    normalize.CollapseWhitespace(node.Customer.FirstName + " " + node.Customer.LastName),
				Sequence:       seq,
			}
			if ccy := node.Amount.CurrencyCode; ccy != "" && conn.Currency != "" && ccy != conn.Currency {
				principal.CurrencyCode = ccy
				principal.AmountCurrency = node.Amount.Value
			}
			stmt.Transactions = append(stmt.Transactions, principal)

			if fee := node.MerchantFee.Value.Abs(); !fee.IsZero() {
				seq++
				stmt.Transactions = append(stmt.Transactions, feeLine(principal, fee.Neg(), seq))
			}
		}

		if !page.PageInfo.HasNextPage || page.PageInfo.EndCursor == "" {
			break
		}
		after = page.PageInfo.EndCursor
	}
	return stmt, nil
}

func orNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
