// Package audit emits one structured log line per ingestion event so
// import outcomes can be traced after the fact.
package audit

import (
	"encoding/json"
	"log"
	"time"
)

type AuditEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	EventType   string    `json:"event_type"`
	RunID       string    `json:"run_id"`
	JournalID   int64     `json:"journal_id,omitempty"`
	StatementID int64     `json:"statement_id,omitempty"`
	Service     string    `json:"service,omitempty"`
	Status      string    `json:"status"`
	Details     any       `json:"details,omitempty"`
}

type AuditLogger struct{}

func NewAuditLogger() *AuditLogger {
	return &AuditLogger{}
}

func (a *AuditLogger) LogImport(runID string, journalID int64, statementIDs []int64, created, skipped int) {
	a.log(AuditEvent{
		Timestamp: time.Now(),
		EventType: "IMPORT",
		RunID:     runID,
		JournalID: journalID,
		Status:    "SUCCESS",
		Details: map[string]any{
			"statement_ids": statementIDs,
			"created":       created,
			"skipped":       skipped,
		},
	})
}

func (a *AuditLogger) LogMerge(runID string, journalID, statementID int64, created, skipped int) {
	a.log(AuditEvent{
		Timestamp:   time.Now(),
		EventType:   "MERGE",
		RunID:       runID,
		JournalID:   journalID,
		StatementID: statementID,
		Status:      "SUCCESS",
		Details: map[string]any{
			"created": created,
			"skipped": skipped,
		},
	})
}

func (a *AuditLogger) LogPull(runID, service, connectionID, status string, details any) {
	a.log(AuditEvent{
		Timestamp: time.Now(),
		EventType: "PULL",
		RunID:     runID,
		Service:   service,
		Status:    status,
		Details: map[string]any{
			"connection_id": connectionID,
			"details":       details,
		},
	})
}

func (a *AuditLogger) LogError(runID, eventType string, err error) {
	a.log(AuditEvent{
		Timestamp: time.Now(),
		EventType: eventType,
		RunID:     runID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *AuditLogger) log(event AuditEvent) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
