// Package handlers contains the HTTP handlers of the check-in agent.
//
// The employee's page talks to the agent through these routes:
//   - open and close a check-in session
//   - start, observe and cancel a check-in attempt
//   - forward the device's geolocation fixes and errors
//   - read the geofencing context the gate decides against
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"attendance/internal/checkin"
	"attendance/internal/core"
	"attendance/internal/location"
	"attendance/internal/types"
)

// SessionStore is the subset of checkin.Registry the handlers use.
type SessionStore interface {
	Open(ctx context.Context, geolocationSupported bool) *checkin.Session
	Get(id string) (*checkin.Session, error)
	Close(id string) error
}

// --- Request/Response Models ---

// OpenSessionRequest is the body of POST /v1/sessions.
type OpenSessionRequest struct {
	GeolocationSupported *bool `json:"geolocation_supported" validate:"required"`
}

// OpenSessionResponse is returned by POST /v1/sessions.
type OpenSessionResponse struct {
	SessionID string `json:"session_id"`
}

// StartAttemptRequest is the body of POST /v1/sessions/{id}/attempts.
// Target is the mission order number and is ignored for office check-ins.
type StartAttemptRequest struct {
	Kind   string `json:"kind" validate:"required,checkin_kind"`
	Target string `json:"target" validate:"max=64"`
}

// StartAttemptResponse is returned by POST /v1/sessions/{id}/attempts.
type StartAttemptResponse struct {
	AttemptID uint64             `json:"attempt_id"`
	State     types.AttemptState `json:"state"`
}

// PositionRequest is one fix forwarded from watchPosition.
type PositionRequest struct {
	Latitude   *float64   `json:"latitude" validate:"required,latitude"`
	Longitude  *float64   `json:"longitude" validate:"required,longitude"`
	Accuracy   *float64   `json:"accuracy" validate:"required,accuracy"`
	CapturedAt *time.Time `json:"captured_at,omitempty"`
}

// PositionErrorRequest is a GeolocationPositionError forwarded from the page.
type PositionErrorRequest struct {
	Code    string `json:"code" validate:"required,position_error"`
	Message string `json:"message,omitempty" validate:"max=256"`
}

// --- Handler ---

// CheckInHandler serves the session, attempt and device bridge routes.
type CheckInHandler struct {
	sessions  SessionStore
	validator *core.Validator
	logger    *slog.Logger
}

// NewCheckInHandler creates a CheckInHandler.
func NewCheckInHandler(sessions SessionStore, v *core.Validator, l *slog.Logger) *CheckInHandler {
	if l == nil {
		l = slog.Default()
	}
	if v == nil {
		v = core.NewValidator(l)
	}
	return &CheckInHandler{sessions: sessions, validator: v, logger: l}
}

// RegisterRoutes mounts the check-in routes on r.
func (h *CheckInHandler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.With(core.RequireCredentials).Post("/", h.OpenSession)

		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", h.CloseSession)
			r.Get("/context", h.GetContext)

			r.Post("/attempts", h.StartAttempt)
			r.Get("/attempts/current", h.CurrentAttempt)
			r.Delete("/attempts/current", h.CancelAttempt)

			r.Post("/positions", h.PublishPosition)
			r.Post("/position-errors", h.ReportPositionError)
		})
	})
}

// OpenSession handles POST /v1/sessions.
func (h *CheckInHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	s := h.sessions.Open(r.Context(), *req.GeolocationSupported)
	core.JSON(w, r, http.StatusCreated, OpenSessionResponse{SessionID: s.ID})
}

// CloseSession handles DELETE /v1/sessions/{id}.
func (h *CheckInHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Close(chi.URLParam(r, "id")); err != nil {
		core.Error(w, r, err)
		return
	}
	core.NoContent(w)
}

// GetContext handles GET /v1/sessions/{id}/context. ?refresh=true bypasses
// the cache.
func (h *CheckInHandler) GetContext(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	refresh := false
	if raw := r.URL.Query().Get("refresh"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			core.Error(w, r, types.NewAppErrorWithDetails(
				types.ErrCodeValidationInvalidRequest,
				"refresh must be a boolean",
				err,
				map[string]any{"refresh": raw},
			))
			return
		}
		refresh = v
	}

	gctx, err := s.GeofenceContext(r.Context(), refresh)
	if err != nil {
		h.logger.WarnContext(r.Context(), "geofencing context unavailable",
			"session_id", s.ID, "error", err.Error())
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, gctx)
}

// StartAttempt handles POST /v1/sessions/{id}/attempts. The attempt runs in
// the background and supersedes any attempt still in progress.
func (h *CheckInHandler) StartAttempt(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req StartAttemptRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	id, err := s.Start(r.Context(), types.CheckInKind(req.Kind), req.Target)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	state := types.AttemptStateSampling
	if snap := s.Orchestrator.Snapshot(); snap.ID == id {
		state = snap.State
	}
	core.JSON(w, r, http.StatusAccepted, StartAttemptResponse{AttemptID: id, State: state})
}

// CurrentAttempt handles GET /v1/sessions/{id}/attempts/current.
func (h *CheckInHandler) CurrentAttempt(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	core.JSON(w, r, http.StatusOK, s.Orchestrator.Snapshot())
}

// CancelAttempt handles DELETE /v1/sessions/{id}/attempts/current.
func (h *CheckInHandler) CancelAttempt(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.Orchestrator.Cancel()
	core.NoContent(w)
}

// PublishPosition handles POST /v1/sessions/{id}/positions.
func (h *CheckInHandler) PublishPosition(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req PositionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	sample := types.PositionSample{
		Latitude:       *req.Latitude,
		Longitude:      *req.Longitude,
		AccuracyMeters: *req.Accuracy,
	}
	// Undated fixes are stamped by the sensor on receipt.
	if req.CapturedAt != nil && !req.CapturedAt.IsZero() {
		sample.CapturedAt = req.CapturedAt.UTC()
	}

	delivered := s.Sensor.Publish(sample)
	h.logger.DebugContext(r.Context(), "position forwarded",
		"session_id", s.ID,
		"accuracy_m", sample.AccuracyMeters,
		"watchers", delivered,
	)
	core.NoContent(w)
}

// ReportPositionError handles POST /v1/sessions/{id}/position-errors.
func (h *CheckInHandler) ReportPositionError(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req PositionErrorRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	code, _ := location.ParseFailureCode(req.Code)
	delivered := s.Sensor.Fail(location.SensorFailure{Code: code, Message: req.Message})
	h.logger.InfoContext(r.Context(), "position error forwarded",
		"session_id", s.ID,
		"code", string(code),
		"watchers", delivered,
	)
	core.NoContent(w)
}

func (h *CheckInHandler) session(w http.ResponseWriter, r *http.Request) (*checkin.Session, bool) {
	s, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return nil, false
	}
	return s, true
}
