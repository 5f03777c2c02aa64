// Package providers wraps third-party transaction APIs behind one
// interface. Each adapter owns the bit-exact mapping of its provider's
// schema into canonical transactions; pagination stops at the
// provider-declared end of pages and nothing else is assumed about the
// transport.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bankfeeds/backend/internal/models"
)

// Connection is one configured provider account. Credentials are opaque
// key/value material owned by whatever stores them; adapters only read
// the entries they need.
type Connection struct {
	ID            string            `json:"id"`
	Service       string            `json:"service"`
	JournalID     int64             `json:"journal_id"`
	AccountID     string            `json:"account_id"`
	AccountNumber string            `json:"account_number"`
	Currency      string            `json:"currency"`
	BaseURL       string            `json:"base_url,omitempty"`
	Credentials   map[string]string `json:"-"`
}

// Provider fetches the raw transactions of one window and returns them
// as a parsed statement in canonical shape.
type Provider interface {
	Name() string
	FetchTransactions(ctx context.Context, conn Connection, since, until time.Time) (models.ParsedStatement, error)
}

// TransientError marks network/auth failures that the scheduler should
// log and retry on the next tick without advancing the cursor.
type TransientError struct {
	Service string
	Err     error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient provider failure: %v", e.Service, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError for the named service.
func Transient(service string, err error) error {
	return &TransientError{Service: service, Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ErrUnknownService is returned when no adapter is registered for a
// connection's service name.
var ErrUnknownService = errors.New("unknown online provider service")

// Registry is the static service-name → adapter table.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds the registry with every supported adapter sharing
// one HTTP client.
func NewRegistry(client *http.Client) *Registry {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range []Provider{
		NewPonto(client),
		NewPayPal(client),
		NewWise(client),
		NewBraintree(client),
		NewNordigen(client),
		NewPlaid(client),
	} {
		r.providers[p.Name()] = p
	}
	// GoCardless absorbed Nordigen; connections configured under either
	// name reach the same Bank Account Data adapter.
	r.providers["gocardless"] = r.providers["nordigen"]
	return r
}

// Get resolves a service name to its adapter.
func (r *Registry) Get(service string) (Provider, error) {
	p, ok := r.providers[service]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, service)
	}
	return p, nil
}

// Services lists the registered service names.
func (r *Registry) Services() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
