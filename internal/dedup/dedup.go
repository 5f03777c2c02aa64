// Package dedup derives the stable unique import ids that make repeated
// imports idempotent. The merge engine checks these ids before insert;
// no file checksums or content hashes are involved.
package dedup

import (
	"fmt"
	"regexp"
	"strings"
)

var sanitizeRe = regexp.MustCompile(`[^A-Za-z0-9]`)

// SanitizeAccount strips everything but alphanumerics from an account
// number so it can serve as a key component.
func SanitizeAccount(account string) string {
	return sanitizeRe.ReplaceAllString(strings.TrimSpace(account), "")
}

// FileImportID scopes a file-sourced native transaction id to one bank
// account and journal. The same provider id imported into two journals
// must not collide; re-imported into the same journal it must.
func FileImportID(accountNumber string, journalID int64, nativeID string) string {
	if strings.TrimSpace(nativeID) == "" {
		// No derivable native id: the transaction is never deduplicated.
		return ""
	}
	return fmt.Sprintf("%s-%d-%s", SanitizeAccount(accountNumber), journalID, strings.TrimSpace(nativeID))
}

// StreamImportID is the key for API-sourced streams whose native ids are
// already scoped to one provider connection.
func StreamImportID(nativeID string) string {
	return strings.TrimSpace(nativeID)
}

// FeeImportID derives the companion key for the fee line split off a
// settlement record. It differs from the principal key only by a fixed
// suffix.
func FeeImportID(nativeID string) string {
	return StreamImportID(nativeID) + "-FEE"
}
