package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	apperrors "github.com/johnayoung/go-eft-pipeline/internal/errors"
	"github.com/johnayoung/go-eft-pipeline/internal/ingest"
	"github.com/johnayoung/go-eft-pipeline/internal/logger"
	"github.com/johnayoung/go-eft-pipeline/internal/models"
	"github.com/johnayoung/go-eft-pipeline/internal/pipeline"
	"github.com/johnayoung/go-eft-pipeline/internal/storage"
)

const defaultSource = "api"

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	processor    *pipeline.Processor
	store        storage.ResultStore
	maxBodyBytes int64
	logger       *logger.ComponentLogger
}

// BatchResponse is the body returned for an accepted batch.
type BatchResponse struct {
	RunID      string                   `json:"run_id"`
	Source     string                   `json:"source"`
	Checksum   string                   `json:"checksum"`
	Report     *models.QualityReport    `json:"report"`
	Aggregates []models.AggregateRecord `json:"aggregates"`
	Anomalies  []models.AnomalyRecord   `json:"anomalies"`
	Stages     []pipeline.StageSummary  `json:"stages"`
	Saved      *storage.SaveResult      `json:"saved,omitempty"`
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func validDate(s string) bool {
	if s == "" {
		return true
	}
	_, err := time.Parse(models.DateLayout, s)
	return err == nil
}

// --- SubmitBatch ---

// SubmitBatch runs the pipeline over the request body. The format comes from
// the Content-Type header; the optional source query parameter names the batch
// in logs and stored reports.
func (h *Handlers) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	format, err := ingest.FormatForContentType(r.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}

	body := r.Body
	if h.maxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	batch, err := ingest.Read(bytes.NewReader(data), format)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid batch: "+err.Error())
		return
	}

	source := r.URL.Query().Get("source")
	if source == "" {
		source = defaultSource
	}
	ctx := logger.WithSource(r.Context(), source)
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		ctx = logger.WithRequestID(ctx, reqID)
	}

	result, err := h.processor.Process(ctx, batch)
	if err != nil {
		if apperrors.IsSchemaError(err) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":      "schema validation failed",
				"violations": apperrors.SchemaViolations(err),
			})
			return
		}
		h.logger.ErrorWithContext(ctx, "pipeline run failed", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := BatchResponse{
		RunID:      result.RunID,
		Source:     source,
		Checksum:   ingest.Checksum(data),
		Report:     result.Report,
		Aggregates: result.Aggregates,
		Anomalies:  result.Anomalies,
		Stages:     result.Stages,
	}

	if h.store != nil {
		saved, err := h.store.SaveRun(ctx, &storage.RunRecord{
			RunID:      result.RunID,
			Source:     source,
			Checksum:   resp.Checksum,
			ReceivedAt: time.Now().UTC(),
			Aggregates: result.Aggregates,
			Report:     result.Report,
			Anomalies:  result.Anomalies,
		})
		if err != nil {
			h.logger.ErrorWithContext(ctx, "failed to save run", err, "run_id", result.RunID)
			writeError(w, http.StatusInternalServerError, "save results: "+err.Error())
			return
		}
		resp.Saved = saved
	}

	writeJSON(w, http.StatusOK, resp)
}

// --- ListAggregates ---

// ListAggregates returns stored aggregates filtered by bank_id and an
// inclusive from/to date range.
func (h *Handlers) ListAggregates(w http.ResponseWriter, r *http.Request) {
	reader, ok := h.store.(storage.AggregateReader)
	if h.store == nil || !ok {
		writeError(w, http.StatusNotImplemented, "configured storage does not support reads")
		return
	}

	q := r.URL.Query()
	query := storage.AggregateQuery{
		BankID: q.Get("bank_id"),
		From:   q.Get("from"),
		To:     q.Get("to"),
	}
	if !validDate(query.From) || !validDate(query.To) {
		writeError(w, http.StatusBadRequest, "from and to must be YYYY-MM-DD")
		return
	}

	aggs, err := reader.GetAggregates(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if aggs == nil {
		aggs = []models.AggregateRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"aggregates": aggs,
		"total":      len(aggs),
	})
}
