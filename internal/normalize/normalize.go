// Package normalize turns provider-native transaction fields into their
// canonical shape. Every function here is deterministic and
// content-derived; no wall clock, no randomness.
package normalize

import (
	"regexp"
	"strings"
	"time"

	"github.com/bankfeeds/backend/internal/models"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// CollapseWhitespace trims a free-text field and folds internal runs of
// whitespace into single spaces.
func CollapseWhitespace(s string) string {
	return whitespaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
}

// PaymentRef picks the line label from the fallback chain: structured
// invoice reference, then subject/description, then the provider event
// description, then the raw transaction id. The result is never empty
// as long as any candidate is non-blank.
func PaymentRef(structuredRef, description, eventDescription, nativeID string) string {
	for _, candidate := range []string{structuredRef, description, eventDescription, nativeID} {
		if c := CollapseWhitespace(candidate); c != "" {
			return c
		}
	}
	return ""
}

// Clean canonicalizes a transaction's free-text fields in place and
// converts its date to UTC. Bucket assignment later re-projects the UTC
// instant into the reporting timezone; that order is what keeps a
// midnight-crossing timestamp in the right bucket.
func Clean(tx models.Transaction) models.Transaction {
	tx.PaymentRef = CollapseWhitespace(tx.PaymentRef)
	tx.Ref = CollapseWhitespace(tx.Ref)
	tx.PartnerName = CollapseWhitespace(tx.PartnerName)
	tx.Date = tx.Date.UTC()
	return tx
}

// CleanAll applies Clean to every transaction of a statement.
func CleanAll(stmt models.ParsedStatement) models.ParsedStatement {
	cleaned := make([]models.Transaction, len(stmt.Transactions))
	for i, tx := range stmt.Transactions {
		cleaned[i] = Clean(tx)
	}
	stmt.Transactions = cleaned
	return stmt
}

// ParseTimestamp reads a provider timestamp that may be an RFC 3339
// instant (with or without offset) or a bare date, and canonicalizes it
// to UTC. Bare dates are taken as midnight in the given location.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// ReportingDate projects a UTC instant into the reporting timezone and
// truncates it to the calendar day used for bucketing.
func ReportingDate(t time.Time, reporting *time.Location) time.Time {
	if reporting == nil {
		reporting = time.UTC
	}
	local := t.In(reporting)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, reporting)
}
