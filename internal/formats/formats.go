// Package formats defines the contract shared by all statement file
// parsers and the chain-of-responsibility used to sniff an unknown file.
package formats

import (
	"errors"
	"fmt"
	"log"

	"github.com/bankfeeds/backend/internal/models"
)

// Parser turns raw file bytes into parsed statements. A parser that does
// not recognise the input returns a *FormatError; the caller then tries
// the next registered parser.
type Parser interface {
	Name() string
	Parse(data []byte) ([]models.ParsedStatement, error)
}

// FormatError means the input does not match a parser's expected shape.
// It is a normal outcome during format sniffing, fatal only when no
// parser in the chain accepts the input.
type FormatError struct {
	Format string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: not a recognised input: %s", e.Format, e.Reason)
}

// NewFormatError builds a FormatError for the named format.
func NewFormatError(format, reason string, args ...any) *FormatError {
	return &FormatError{Format: format, Reason: fmt.Sprintf(reason, args...)}
}

// IsFormatError reports whether err is (or wraps) a FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// ValidationError means the input matched a format but is semantically
// wrong (unknown currency, inconsistent balances, bad column mapping).
// It aborts the affected statement only.
type ValidationError struct {
	Format string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: invalid statement: %s", e.Format, e.Reason)
}

// NewValidationError builds a ValidationError for the named format.
func NewValidationError(format, reason string, args ...any) *ValidationError {
	return &ValidationError{Format: format, Reason: fmt.Sprintf(reason, args...)}
}

// ErrUnsupportedFormat is returned by Detect when every registered
// parser rejected the input.
var ErrUnsupportedFormat = errors.New("this file format is not supported")

// Registry holds an ordered list of parsers tried in sequence.
type Registry struct {
	parsers []Parser
}

// NewRegistry creates a registry trying parsers in the given order.
func NewRegistry(parsers ...Parser) *Registry {
	return &Registry{parsers: parsers}
}

// Register appends a parser to the end of the chain.
func (r *Registry) Register(p Parser) {
	r.parsers = append(r.parsers, p)
}

// Detect runs the chain over the input. FormatError moves on to the next
// parser; any other error (including ValidationError) is returned as-is
// because the format was recognised.
func (r *Registry) Detect(data []byte) ([]models.ParsedStatement, error) {
	for _, p := range r.parsers {
		stmts, err := p.Parse(data)
		if err == nil {
			return stmts, nil
		}
		if IsFormatError(err) {
			log.Printf("[IMPORT] parser %s rejected input: %v", p.Name(), err)
			continue
		}
		return nil, fmt.Errorf("parser %s: %w", p.Name(), err)
	}
	return nil, ErrUnsupportedFormat
}
