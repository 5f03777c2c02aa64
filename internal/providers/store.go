package providers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// ConnectionStore loads configured provider connections from the
// database. Credentials are stored as an opaque JSON document; this
// layer never inspects them.
type ConnectionStore struct {
	db *sql.DB
}

// NewConnectionStore creates a connection store over db.
func NewConnectionStore(db *sql.DB) *ConnectionStore {
	return &ConnectionStore{db: db}
}

// ListActive returns every enabled connection, ordered by id so polling
// order is stable across ticks.
func (s *ConnectionStore) ListActive(ctx context.Context) ([]Connection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, service, journal_id, account_id, COALESCE(account_number, ''),
			COALESCE(currency, ''), COALESCE(base_url, ''), credentials
		FROM provider_connections
		WHERE active
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing provider connections: %w", err)
	}
	defer rows.Close()

	var conns []Connection
	for rows.Next() {
		var (
			conn Connection
			raw  []byte
		)
		if err := rows.Scan(&conn.ID, &conn.Service, &conn.JournalID, &conn.AccountID,
			&conn.AccountNumber, &conn.Currency, &conn.BaseURL, &raw); err != nil {
			return nil, fmt.Errorf("scanning provider connection: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &conn.Credentials); err != nil {
				return nil, fmt.Errorf("decoding credentials for connection %s: %w", conn.ID, err)
			}
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}
