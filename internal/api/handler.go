package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/abiolaogu/VoxGuard-sub001/internal/detection"
	"github.com/abiolaogu/VoxGuard-sub001/internal/domain"
	"github.com/abiolaogu/VoxGuard-sub001/internal/logging"
	"github.com/abiolaogu/VoxGuard-sub001/internal/worker"
)

// maxSignalBytes caps a submitted SIP message.
const maxSignalBytes = 64 << 10

// SignalProcessor parses and processes one raw message synchronously.
type SignalProcessor interface {
	Process(ctx context.Context, pkt worker.Packet) (*detection.Result, error)
	Stats() worker.Stats
}

// ThresholdStore holds the live probability threshold.
type ThresholdStore interface {
	Threshold() float64
	UpdateThreshold(v float64) error
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck is a named dependency probed by /health and /ready.
type HealthCheck struct {
	Name   string
	Pinger Pinger
}

// Handler holds dependencies for API handlers.
type Handler struct {
	signals   SignalProcessor
	alerts    *detection.AlertService
	blacklist *detection.BlacklistService
	threshold ThresholdStore
	checks    []HealthCheck
	version   string
	validate  *validator.Validate
}

// NewHandler creates the handler. checks are probed in order by /health.
func NewHandler(signals SignalProcessor, alerts *detection.AlertService, blacklist *detection.BlacklistService, threshold ThresholdStore, version string, checks ...HealthCheck) *Handler {
	return &Handler{
		signals:   signals,
		alerts:    alerts,
		blacklist: blacklist,
		threshold: threshold,
		checks:    checks,
		version:   version,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// AcknowledgeRequest is the body of POST /alerts/{id}/acknowledge.
type AcknowledgeRequest struct {
	By string `json:"by"`
}

// ResolveRequest is the body of POST /alerts/{id}/resolve.
type ResolveRequest struct {
	By         string `json:"by"`
	Resolution string `json:"resolution" validate:"required,oneof=CONFIRMED FALSE_POSITIVE ESCALATED WHITELISTED"`
	Notes      string `json:"notes" validate:"max=2000"`
}

// ReportRequest is the body of POST /reports.
type ReportRequest struct {
	AlertIDs []string `json:"alertIds" validate:"required,min=1,dive,required"`
	By       string   `json:"by"`
}

// BlacklistRequest is the body of POST /blacklist.
type BlacklistRequest struct {
	Value         string `json:"value" validate:"required"`
	Reason        string `json:"reason" validate:"max=500"`
	DurationHours int    `json:"durationHours" validate:"gt=0,lte=8760"`
}

// ThresholdRequest is the body of PUT /threshold.
type ThresholdRequest struct {
	Threshold *float64 `json:"threshold" validate:"required"`
}

// SubmitSignal handles POST /signals with a raw SIP message as the body.
func (h *Handler) SubmitSignal(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSignalBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read body"})
		return
	}
	if len(body) > maxSignalBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "signal too large"})
		return
	}

	res, err := h.signals.Process(r.Context(), worker.Packet{
		Data:     body,
		SourceIP: r.Header.Get(SourceIPHeader),
		Source:   "http",
	})
	if err != nil && res == nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if res.Decision == detection.DecisionAlerted {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// Stats handles GET /stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	pending, err := h.alerts.CountPending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pendingAlerts": pending,
		"ingest":        h.signals.Stats(),
		"threshold":     h.threshold.Threshold(),
	})
}

// ListAlerts handles GET /alerts?status=&bNumber=. A bNumber narrows the
// result to that destination's newest PENDING alert.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	status := domain.AlertStatus(strings.ToUpper(r.URL.Query().Get("status")))
	bNumber := strings.TrimSpace(r.URL.Query().Get("bNumber"))

	var alerts []*domain.FraudAlert
	var err error
	switch {
	case bNumber != "" && status != "" && status != domain.AlertPending:
		err = fmt.Errorf("%w: bNumber only filters PENDING alerts", domain.ErrInvalidInput)
	case bNumber != "":
		var a *domain.FraudAlert
		a, err = h.alerts.PendingFor(r.Context(), bNumber)
		if err == nil {
			alerts = []*domain.FraudAlert{a}
		} else if errors.Is(err, domain.ErrNotFound) {
			err = nil
		}
	default:
		alerts, err = h.alerts.List(r.Context(), status)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if alerts == nil {
		alerts = []*domain.FraudAlert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetAlert handles GET /alerts/{id}.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := h.alerts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// AcknowledgeAlert handles POST /alerts/{id}/acknowledge.
func (h *Handler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	var req AcknowledgeRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}

	alert, err := h.alerts.Acknowledge(r.Context(), chi.URLParam(r, "id"), operator(r, req.By))
	if err != nil {
		writeError(w, err)
		return
	}
	logging.Info().Str("alert_id", alert.ID).Str("by", alert.AcknowledgedBy).Msg("Alert acknowledged")
	writeJSON(w, http.StatusOK, alert)
}

// ResolveAlert handles POST /alerts/{id}/resolve.
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !h.decode(w, r, &req) {
		return
	}

	alert, err := h.alerts.Resolve(r.Context(), chi.URLParam(r, "id"), operator(r, req.By),
		domain.Resolution(req.Resolution), req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	logging.Info().Str("alert_id", alert.ID).Str("resolution", string(alert.Resolution)).Msg("Alert resolved")
	writeJSON(w, http.StatusOK, alert)
}

// SubmitReport handles POST /reports.
func (h *Handler) SubmitReport(w http.ResponseWriter, r *http.Request) {
	var req ReportRequest
	if !h.decode(w, r, &req) {
		return
	}

	reportID, err := h.alerts.SubmitReport(r.Context(), req.AlertIDs, operator(r, req.By))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"reportId": reportID,
		"alerts":   len(req.AlertIDs),
	})
}

// AddBlacklist handles POST /blacklist.
func (h *Handler) AddBlacklist(w http.ResponseWriter, r *http.Request) {
	var req BlacklistRequest
	if !h.decode(w, r, &req) {
		return
	}

	entry, err := h.blacklist.Add(r.Context(), req.Value, req.Reason, time.Duration(req.DurationHours)*time.Hour)
	if err != nil {
		writeError(w, err)
		return
	}
	logging.Info().Str("value", entry.Value).Time("expires_at", entry.ExpiresAt).Msg("Blacklist entry added")
	writeJSON(w, http.StatusCreated, entry)
}

// GetBlacklist handles GET /blacklist/{value}.
func (h *Handler) GetBlacklist(w http.ResponseWriter, r *http.Request) {
	entry, err := h.blacklist.Get(r.Context(), chi.URLParam(r, "value"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entry":  entry,
		"active": entry.Active(time.Now()),
	})
}

// DeleteBlacklist handles DELETE /blacklist/{id}.
func (h *Handler) DeleteBlacklist(w http.ResponseWriter, r *http.Request) {
	if err := h.blacklist.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CleanupBlacklist handles POST /blacklist/cleanup.
func (h *Handler) CleanupBlacklist(w http.ResponseWriter, r *http.Request) {
	n, err := h.blacklist.CleanupExpired(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

// GetThreshold handles GET /threshold.
func (h *Handler) GetThreshold(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]float64{"threshold": h.threshold.Threshold()})
}

// UpdateThreshold handles PUT /threshold. An out-of-range value leaves the
// current threshold in place.
func (h *Handler) UpdateThreshold(w http.ResponseWriter, r *http.Request) {
	var req ThresholdRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.threshold.UpdateThreshold(*req.Threshold); err != nil {
		writeError(w, err)
		return
	}
	logging.Info().Float64("threshold", *req.Threshold).Msg("Detection threshold updated")
	writeJSON(w, http.StatusOK, map[string]float64{"threshold": h.threshold.Threshold()})
}

// Health reports per-dependency status. It always answers 200 so that
// a degraded backend does not get the process restarted.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	deps := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if err := c.Pinger.Ping(r.Context()); err != nil {
			deps[c.Name] = err.Error()
			status = "degraded"
			continue
		}
		deps[c.Name] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"version":      h.version,
		"dependencies": deps,
	})
}

// Ready answers 503 until every dependency responds.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	for _, c := range h.checks {
		if err := c.Pinger.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready":  "false",
				"reason": c.Name + ": " + err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"ready": "true"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON request body"})
		return false
	}
	return h.check(w, v)
}

// decodeOptional accepts an empty body.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON request body"})
		return false
	}
	return h.check(w, v)
}

func (h *Handler) check(w http.ResponseWriter, v any) bool {
	err := h.validate.Struct(v)
	if err == nil {
		return true
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: fe.Field() + " failed " + fe.Tag() + " validation",
		})
		return false
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	return false
}

func operator(r *http.Request, by string) string {
	if by != "" {
		return by
	}
	if v := r.Header.Get(OperatorHeader); v != "" {
		return v
	}
	return "api"
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrConfiguration),
		errors.Is(err, domain.ErrProtocolParse),
		errors.Is(err, domain.ErrNotRecognized):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidStateTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logging.Error().Err(err).Msg("Request failed")
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error().Err(err).Msg("Failed to encode response")
	}
}
