package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"attendance/internal/types"
)

// Attendance API paths.
const (
	pathGeofencingContext = "/attendance/geofencing-context"
	pathCheckInOffice     = "/attendance/checkin/office"
	pathCheckInMission    = "/attendance/checkin/mission"
)

// maxErrorBody caps how much of an error response is read for its message.
const maxErrorBody = 64 << 10

const userAgent = "AttendanceCheckIn/1.0"

// AttendanceClientConfig holds the configuration for an AttendanceClient.
type AttendanceClientConfig struct {
	BaseURL string
	// APIKey, when set, is sent as X-Api-Key on every call.
	APIKey types.SecretString
	// MaxRetries applies to reads only; negative selects the default. Check-in
	// submissions are never retried.
	MaxRetries int
	Logger     *slog.Logger
}

// AttendanceClient calls the attendance API on behalf of the employee whose
// Authorization header travels in the request context.
type AttendanceClient struct {
	read    *BaseClient
	write   *BaseClient
	baseURL string
	apiKey  types.SecretString
	logger  *slog.Logger
}

// NewAttendanceClient creates an AttendanceClient. Reads and writes share one
// circuit breaker.
func NewAttendanceClient(httpClient *http.Client, cfg AttendanceClientConfig, opts ...BaseClientOption) *AttendanceClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	readPolicy := DefaultRetryPolicy()
	if cfg.MaxRetries >= 0 {
		readPolicy.MaxRetries = cfg.MaxRetries
	}
	breaker := NewBreaker(BreakerSettings{Name: "attendance-api"})

	return &AttendanceClient{
		read:    NewBaseClientWithBreaker(httpClient, breaker, readPolicy, userAgent, opts...),
		write:   NewBaseClientWithBreaker(httpClient, breaker, NoRetryPolicy(), userAgent, opts...),
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

// Name implements core.HealthProbe.
func (c *AttendanceClient) Name() string {
	return "attendance_api"
}

// Check fails while the attendance API circuit breaker is open. It never
// calls the API itself.
func (c *AttendanceClient) Check(_ context.Context) error {
	if c.read.BreakerOpen() {
		return fmt.Errorf("circuit breaker open")
	}
	return nil
}

// --- wire shapes ---

// flexString accepts both JSON strings and numbers, since office IDs arrive
// as either depending on the backend version.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type officeWire struct {
	ID           flexString `json:"id"`
	Name         string     `json:"name"`
	Latitude     float64    `json:"latitude"`
	Longitude    float64    `json:"longitude"`
	RadiusMeters *float64   `json:"radius_meters"`
	Radius       *float64   `json:"radius"`
}

type siteWire struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type missionWire struct {
	OrderNumber        flexString `json:"order_number"`
	MissionOrderNumber flexString `json:"mission_order_number"`
	Status             string     `json:"status"`
	Statut             string     `json:"statut"`
	Site               *siteWire  `json:"site"`
}

type geofencingContextWire struct {
	Offices  []officeWire  `json:"offices"`
	Missions []missionWire `json:"missions"`
	Fallback string        `json:"fallback"`
}

type officeCheckInWire struct {
	Coordinates *types.Coordinates `json:"coordinates,omitempty"`
}

type missionCheckInWire struct {
	MissionOrderNumber string             `json:"mission_order_number"`
	Coordinates        *types.Coordinates `json:"coordinates,omitempty"`
}

type checkInResponseWire struct {
	Message  string `json:"message"`
	Pointage *struct {
		Statut       string          `json:"statut"`
		DelayMinutes json.RawMessage `json:"delay_minutes"`
	} `json:"pointage"`
}

type errorResponseWire struct {
	Message string          `json:"message"`
	Detail  string          `json:"detail"`
	Error   json.RawMessage `json:"error"`
}

// --- operations ---

// FetchGeofencingContext retrieves offices, missions and the fallback policy.
// An unknown or missing fallback is left empty for the cache to default.
func (c *AttendanceClient) FetchGeofencingContext(ctx context.Context) (*types.GeofenceContext, error) {
	resp, err := c.call(ctx, c.read, http.MethodGet, pathGeofencingContext, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.handleErrorResponse(resp, pathGeofencingContext, "")
	}

	var wire geofencingContextWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamDecode,
			"failed to decode geofencing context",
			err,
		)
	}
	return wire.toDomain(), nil
}

func (w geofencingContextWire) toDomain() *types.GeofenceContext {
	out := &types.GeofenceContext{
		Offices:  make([]types.Office, 0, len(w.Offices)),
		Missions: make([]types.Mission, 0, len(w.Missions)),
	}
	for _, o := range w.Offices {
		office := types.Office{
			ID:        string(o.ID),
			Name:      o.Name,
			Latitude:  o.Latitude,
			Longitude: o.Longitude,
		}
		switch {
		case o.RadiusMeters != nil:
			office.RadiusMeters = *o.RadiusMeters
		case o.Radius != nil:
			office.RadiusMeters = *o.Radius
		}
		// An office without usable geometry cannot be matched locally.
		if types.ValidateCoordinates(office.Latitude, office.Longitude) != nil || office.RadiusMeters <= 0 {
			continue
		}
		out.Offices = append(out.Offices, office)
	}
	for _, m := range w.Missions {
		mission := types.Mission{
			OrderNumber: strings.TrimSpace(string(m.OrderNumber)),
			Status:      types.MissionStatus(strings.ToLower(strings.TrimSpace(m.Status))),
		}
		if mission.OrderNumber == "" {
			mission.OrderNumber = strings.TrimSpace(string(m.MissionOrderNumber))
		}
		if mission.Status == "" {
			mission.Status = types.MissionStatus(strings.ToLower(strings.TrimSpace(m.Statut)))
		}
		if m.Site != nil {
			mission.Site = &types.Site{Name: m.Site.Name, Latitude: m.Site.Latitude, Longitude: m.Site.Longitude}
		}
		if mission.OrderNumber == "" {
			continue
		}
		out.Missions = append(out.Missions, mission)
	}
	if p, ok := types.ParseFallbackPolicy(w.Fallback); ok {
		out.Fallback = p
	}
	return out
}

// CheckInOffice submits an office check-in. coords may be nil when the gate
// deferred to the server without a position.
func (c *AttendanceClient) CheckInOffice(ctx context.Context, coords *types.Coordinates) (*types.CheckInReceipt, error) {
	return c.submit(ctx, pathCheckInOffice, officeCheckInWire{Coordinates: coords}, types.CheckInKindOffice)
}

// CheckInMission submits a mission check-in.
func (c *AttendanceClient) CheckInMission(ctx context.Context, orderNumber string, coords *types.Coordinates) (*types.CheckInReceipt, error) {
	return c.submit(ctx, pathCheckInMission, missionCheckInWire{
		MissionOrderNumber: orderNumber,
		Coordinates:        coords,
	}, types.CheckInKindMission)
}

func (c *AttendanceClient) submit(ctx context.Context, path string, payload any, kind types.CheckInKind) (*types.CheckInReceipt, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to serialize check-in payload",
			err,
		)
	}

	resp, err := c.call(ctx, c.write, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.handleErrorResponse(resp, path, kind)
	}

	var wire checkInResponseWire
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamTransport, "failed to read check-in response", err)
	}
	receipt := &types.CheckInReceipt{}
	// The check-in is recorded once the server answers 2xx; an unreadable
	// body only loses the display fields.
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &wire); err != nil {
			c.logger.WarnContext(ctx, "undecodable check-in response body", "path", path, "error", err.Error())
			return receipt, nil
		}
	}
	receipt.Message = wire.Message
	if wire.Pointage != nil {
		receipt.Status = wire.Pointage.Statut
		receipt.DelayMinutes = parseDelay(wire.Pointage.DelayMinutes)
	}
	return receipt, nil
}

// parseDelay accepts a number, a numeric string or null.
func parseDelay(raw json.RawMessage) *int {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	n := int(f)
	return &n
}

// call builds and sends one request with the forwarded credentials.
func (c *AttendanceClient) call(ctx context.Context, base *BaseClient, method, path string, body []byte) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			fmt.Sprintf("failed to create %s %s request", method, path),
			err,
		)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if creds, ok := types.GetCredentials(ctx); ok {
		req.Header.Set("Authorization", creds.Unmask())
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey.Unmask())
	}
	if tenant := types.GetTenantID(ctx); tenant != "" {
		req.Header.Set("X-Tenant-Id", tenant)
	}

	start := time.Now()
	resp, err := base.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "attendance API call failed",
			"method", method,
			"path", path,
			"duration", time.Since(start),
			"code", string(types.CodeOf(err)),
		)
		return nil, err
	}
	c.logger.DebugContext(ctx, "attendance API call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)
	return resp, nil
}

// handleErrorResponse maps a non-2xx response that BaseClient passed through.
// kind is empty for reads.
func (c *AttendanceClient) handleErrorResponse(resp *http.Response, path string, kind types.CheckInKind) error {
	msg := readErrorMessage(resp.Body)
	details := map[string]any{"status": resp.StatusCode, "path": path}

	code := types.ErrCodeServerRejected
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		code = types.ErrCodeServerUnauthorized
	case http.StatusConflict:
		if kind != "" {
			code = types.ErrCodeServerDuplicateCheckIn
		}
	case http.StatusForbidden:
		if kind != "" {
			code = types.ErrCodeServerForbiddenDistance
		}
	case http.StatusBadRequest:
		if kind != "" {
			code = types.ErrCodeServerInvalidCoordinates
		}
	case http.StatusNotFound:
		if kind == types.CheckInKindMission {
			code = types.ErrCodeServerMissionUnknown
		}
	}
	if msg == "" {
		msg = fmt.Sprintf("attendance API returned %d", resp.StatusCode)
	}
	return types.NewAppErrorWithDetails(code, msg, nil, details)
}

// readErrorMessage extracts a human-readable message from an error body:
// {"message": ...}, {"detail": ...} or {"error": "..."|{"message": ...}}.
func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var wire errorResponseWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return ""
	}
	switch {
	case wire.Message != "":
		return wire.Message
	case wire.Detail != "":
		return wire.Detail
	case len(wire.Error) > 0:
		var s string
		if json.Unmarshal(wire.Error, &s) == nil {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(wire.Error, &nested) == nil {
			return nested.Message
		}
	}
	return ""
}
