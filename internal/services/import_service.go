package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bankfeeds/backend/internal/audit"
	"github.com/bankfeeds/backend/internal/dedup"
	"github.com/bankfeeds/backend/internal/formats"
	"github.com/bankfeeds/backend/internal/merge"
	"github.com/bankfeeds/backend/internal/models"
	"github.com/bankfeeds/backend/internal/normalize"
)

// maxImportBytes caps uploaded statement files at 16 MB.
const maxImportBytes = 16 << 20

// ImportService turns uploaded statement files into persisted statement
// aggregates and serves the merged aggregates back out.
type ImportService struct {
	registry   *formats.Registry
	engine     *merge.Engine
	audit      *audit.AuditLogger
	validator  *ValidationHelper
	allowEmpty bool
}

// NewImportService wires the file import surface.
func NewImportService(registry *formats.Registry, engine *merge.Engine, auditLog *audit.AuditLogger, allowEmpty bool) *ImportService {
	return &ImportService{
		registry:   registry,
		engine:     engine,
		audit:      auditLog,
		validator:  NewValidationHelper(),
		allowEmpty: allowEmpty,
	}
}

// ImportFile ingests one statement file for a journal. The file runs
// through the parser chain; each parsed statement is merged into the
// bucket of its own date. A statement failing validation aborts that
// statement only; the rest of the file still imports.
func (s *ImportService) ImportFile(w http.ResponseWriter, r *http.Request) {
	runID := uuid.NewString()
	log.Printf("[IMPORT] run=%s file import from IP: %s", runID, r.RemoteAddr)

	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	if err := r.ParseMultipartForm(maxImportBytes); err != nil {
		SendErrorResponse(w, "Invalid multipart request", http.StatusBadRequest, nil)
		return
	}

	journalID, err := strconv.ParseInt(r.FormValue("journal_id"), 10, 64)
	if err != nil || journalID <= 0 {
		SendErrorResponse(w, "A positive journal_id form field is required", http.StatusBadRequest, nil)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		SendErrorResponse(w, "A file form field is required", http.StatusBadRequest, nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		SendErrorResponse(w, "Failed to read uploaded file", http.StatusBadRequest, nil)
		return
	}
	log.Printf("[IMPORT] run=%s journal=%d file=%q size=%d", runID, journalID, header.Filename, len(data))

	stmts, err := s.registry.Detect(data)
	if err != nil {
		if errors.Is(err, formats.ErrUnsupportedFormat) {
			log.Printf("[IMPORT] run=%s no parser accepted %q", runID, header.Filename)
			SendErrorResponse(w, err.Error(), http.StatusUnprocessableEntity, nil)
			return
		}
		log.Printf("[IMPORT] run=%s parse failed for %q: %v", runID, header.Filename, err)
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	result := s.importStatements(r, runID, journalID, stmts)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// importStatements merges parsed statements one by one and builds the
// outward ImportResult contract.
func (s *ImportService) importStatements(r *http.Request, runID string, journalID int64, stmts []models.ParsedStatement) models.ImportResult {
	var (
		result       models.ImportResult
		totalCreated int
		totalSkipped int
		skippedIDs   []int64
	)

	for _, stmt := range stmts {
		stmt = normalize.CleanAll(stmt)
		for i := range stmt.Transactions {
			stmt.Transactions[i].UniqueImportID = dedup.FileImportID(
				stmt.AccountNumber, journalID, stmt.Transactions[i].UniqueImportID)
		}

		date := stmt.Date
		if date.IsZero() && len(stmt.Transactions) > 0 {
			date = stmt.Transactions[0].Date
		}
		key := merge.BucketKey{JournalID: journalID, Date: dayOf(date)}

		report, err := s.engine.Merge(r.Context(), key, stmt, s.allowEmpty)
		if err != nil {
			// One bad statement must not sink the rest of the file.
			log.Printf("[IMPORT] run=%s statement %q failed: %v", runID, stmt.Name, err)
			s.audit.LogError(runID, "IMPORT", err)
			result.Notifications = append(result.Notifications, models.Notification{
				Type:    "error",
				Message: fmt.Sprintf("Statement %s could not be imported: %v", stmt.Name, err),
			})
			continue
		}
		if report.StatementID != 0 {
			result.StatementIDs = appendUnique(result.StatementIDs, report.StatementID)
		}
		totalCreated += report.Created
		totalSkipped += report.Skipped
		skippedIDs = append(skippedIDs, report.SkippedLineIDs...)
	}

	if totalCreated == 0 && totalSkipped > 0 {
		// Whole file was a re-import: user-facing outcome, not an error.
		result.Notifications = append(result.Notifications, models.Notification{
			Type:    "warning",
			Message: "This file has already been imported; nothing new was found",
			Details: skippedIDs,
		})
	} else if totalSkipped > 0 {
		result.Notifications = append(result.Notifications, models.Notification{
			Type:    "info",
			Message: fmt.Sprintf("%d transactions had already been imported and were ignored", totalSkipped),
			Details: skippedIDs,
		})
	}

	s.audit.LogImport(runID, journalID, result.StatementIDs, totalCreated, totalSkipped)
	log.Printf("[IMPORT] run=%s journal=%d done: statements=%d created=%d skipped=%d",
		runID, journalID, len(result.StatementIDs), totalCreated, totalSkipped)
	return result
}

// ListStatements serves merged aggregates, newest first.
func (s *ImportService) ListStatements(w http.ResponseWriter, r *http.Request) {
	journalID, _ := strconv.ParseInt(r.URL.Query().Get("journal_id"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	stmts, err := s.engine.ListStatements(r.Context(), journalID, limit)
	if err != nil {
		log.Printf("[IMPORT] listing statements failed: %v", err)
		SendErrorResponse(w, "Failed to list statements", http.StatusInternalServerError, nil)
		return
	}
	if stmts == nil {
		stmts = []merge.StoredStatement{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"statements": stmts})
}

// GetStatement serves one aggregate with its lines.
func (s *ImportService) GetStatement(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		SendErrorResponse(w, "Invalid statement id", http.StatusBadRequest, nil)
		return
	}

	stmt, err := s.engine.GetStatement(r.Context(), id)
	if errors.Is(err, merge.ErrStatementNotFound) {
		SendErrorResponse(w, "Statement not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[IMPORT] loading statement %d failed: %v", id, err)
		SendErrorResponse(w, "Failed to load statement", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stmt)
}

func dayOf(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func appendUnique(ids []int64, id int64) []int64 {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
