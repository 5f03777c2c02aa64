package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeAccount(t *testing.T) {
	assert.Equal(t, "NL00BANK0123456789", SanitizeAccount(" NL00 BANK 0123.456-789 "))
	assert.Equal(t, "", SanitizeAccount("---"))
}

func TestFileImportID(t *testing.T) {
	id := FileImportID("NL00 BANK 0123456789", 7, "TX-1")
	assert.Equal(t, "NL00BANK0123456789-7-TX-1", id)

	// pure function: same inputs, same key
	assert.Equal(t, id, FileImportID("NL00 BANK 0123456789", 7, "TX-1"))

	// journal scope keeps the same native id apart across journals
	assert.NotEqual(t, id, FileImportID("NL00 BANK 0123456789", 8, "TX-1"))
}

func TestFileImportIDWithoutNativeID(t *testing.T) {
	// No derivable native id: no key, the line is never deduplicated.
	assert.Equal(t, "", FileImportID("NL00BANK0123456789", 7, ""))
	assert.Equal(t, "", FileImportID("NL00BANK0123456789", 7, "  "))
}

func TestFeeImportID(t *testing.T) {
	assert.Equal(t, "abc123-FEE", FeeImportID("abc123"))
	assert.NotEqual(t, StreamImportID("abc123"), FeeImportID("abc123"))
}
