package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"Mansoor88-6/escort-alerts/internal/alarm"
	"Mansoor88-6/escort-alerts/internal/checkin"
	"Mansoor88-6/escort-alerts/internal/models"
	"Mansoor88-6/escort-alerts/internal/notify"
	"Mansoor88-6/escort-alerts/internal/service"
	"Mansoor88-6/escort-alerts/internal/tracker"

	"go.uber.org/zap"
)

// Emitter is the agent's event emitter
type Emitter interface {
	Emit(ctx context.Context, eventType string, payload map[string]any) (service.Outcome, models.AlarmEvent)
	Pending() int
}

// Alarm is the panic state machine
type Alarm interface {
	Acknowledge() error
	SubmitPhrase(text string) (bool, error)
	Silence()
	CloseModal() error
	Status() alarm.Status
}

// Panel is the check-in reminder panel
type Panel interface {
	SetText(text string)
	Dictate(ctx context.Context) (string, error)
	Confirm(ctx context.Context) (service.Outcome, error)
	State() checkin.State
}

// Locator stores device fixes and the active service
type Locator interface {
	Record(lat, lng float64, address string)
	Last() (tracker.Location, bool)
	SetActiveService(serviceID string)
	ActiveService() string
}

// EmitRequest is the body of /api/v1/emit
type EmitRequest struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// EmitResponse reports where an emitted event ended up
type EmitResponse struct {
	Outcome service.Outcome   `json:"outcome"`
	Event   models.AlarmEvent `json:"event"`
}

type textRequest struct {
	Text string `json:"text"`
}

type locationRequest struct {
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
	Address string   `json:"address"`
}

type serviceRequest struct {
	ServiceID string `json:"service_id"`
}

// StatusResponse is the snapshot a thin UI polls or renders on connect
type StatusResponse struct {
	Session  models.Session    `json:"session"`
	Alarm    alarm.Status      `json:"alarm"`
	Checkin  checkin.State     `json:"checkin"`
	Pending  int               `json:"pending"`
	Service  string            `json:"active_service,omitempty"`
	Location *tracker.Location `json:"location,omitempty"`
}

// ControlServer is the localhost API used by the agent UI page and tray helpers
type ControlServer struct {
	emitter   Emitter
	alarm     Alarm
	panel     Panel
	locator   Locator
	hub       *notify.Hub
	session   models.Session
	keepAlive time.Duration
	logger    *zap.Logger
}

// NewControlServer creates a new control server
func NewControlServer(emitter Emitter, machine Alarm, panel Panel, locator Locator, hub *notify.Hub, session models.Session, logger *zap.Logger) *ControlServer {
	return &ControlServer{
		emitter:   emitter,
		alarm:     machine,
		panel:     panel,
		locator:   locator,
		hub:       hub,
		session:   session,
		keepAlive: 25 * time.Second,
		logger:    logger,
	}
}

// ServeHTTP implements http.Handler
func (s *ControlServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.setCORSHeaders(w)

	// Handle preflight requests
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	type route struct {
		method  string
		handler http.HandlerFunc
	}
	routes := map[string]route{
		"/api/v1/health":          {http.MethodGet, s.handleHealth},
		"/api/v1/status":          {http.MethodGet, s.handleStatus},
		"/api/v1/events":          {http.MethodGet, s.handleEvents},
		"/api/v1/emit":            {http.MethodPost, s.handleEmit},
		"/api/v1/alarm/ack":       {http.MethodPost, s.handleAlarmAck},
		"/api/v1/alarm/phrase":    {http.MethodPost, s.handleAlarmPhrase},
		"/api/v1/alarm/silence":   {http.MethodPost, s.handleAlarmSilence},
		"/api/v1/alarm/close":     {http.MethodPost, s.handleAlarmClose},
		"/api/v1/checkin/text":    {http.MethodPost, s.handleCheckinText},
		"/api/v1/checkin/dictate": {http.MethodPost, s.handleCheckinDictate},
		"/api/v1/checkin/confirm": {http.MethodPost, s.handleCheckinConfirm},
		"/api/v1/location":        {http.MethodPost, s.handleLocation},
		"/api/v1/service":         {http.MethodPost, s.handleService},
	}

	rt, ok := routes[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	if r.Method != rt.method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rt.handler(w, r)
}

// setCORSHeaders lets the local UI page call the agent from a file or dev origin
func (s *ControlServer) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func (s *ControlServer) handleEmit(w http.ResponseWriter, r *http.Request) {
	var req EmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Warn("Failed to decode emit request", zap.Error(err))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	outcome, ev := s.emitter.Emit(r.Context(), req.Type, req.Payload)

	status := http.StatusOK
	switch outcome {
	case service.OutcomeQueued:
		status = http.StatusAccepted
	case service.OutcomeError:
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, EmitResponse{Outcome: outcome, Event: ev})
}

func (s *ControlServer) handleAlarmAck(w http.ResponseWriter, r *http.Request) {
	if err := s.alarm.Acknowledge(); err != nil {
		s.alarmError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.alarm.Status())
}

func (s *ControlServer) handleAlarmPhrase(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ok, err := s.alarm.SubmitPhrase(req.Text)
	if err != nil {
		s.alarmError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"acknowledged": ok,
		"alarm":        s.alarm.Status(),
	})
}

func (s *ControlServer) handleAlarmSilence(w http.ResponseWriter, r *http.Request) {
	s.alarm.Silence()
	writeJSON(w, http.StatusOK, s.alarm.Status())
}

func (s *ControlServer) handleAlarmClose(w http.ResponseWriter, r *http.Request) {
	if err := s.alarm.CloseModal(); err != nil {
		s.alarmError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.alarm.Status())
}

func (s *ControlServer) alarmError(w http.ResponseWriter, err error) {
	if errors.Is(err, alarm.ErrNotArmed) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	s.logger.Error("Alarm control failed", zap.Error(err))
	http.Error(w, "Alarm control failed", http.StatusInternalServerError)
}

func (s *ControlServer) handleCheckinText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	s.panel.SetText(req.Text)
	writeJSON(w, http.StatusOK, s.panel.State())
}

func (s *ControlServer) handleCheckinDictate(w http.ResponseWriter, r *http.Request) {
	text, err := s.panel.Dictate(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"text": text})
	case errors.Is(err, alarm.ErrRecognizerUnavailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, checkin.ErrDictationRunning):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, alarm.ErrNoSpeech), errors.Is(err, context.Canceled):
		writeJSON(w, http.StatusOK, map[string]string{"text": ""})
	default:
		s.logger.Warn("Dictation failed", zap.Error(err))
		http.Error(w, "Dictation failed", http.StatusBadGateway)
	}
}

func (s *ControlServer) handleCheckinConfirm(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.panel.Confirm(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"outcome": outcome,
			"checkin": s.panel.State(),
		})
	case errors.Is(err, checkin.ErrPanelClosed), errors.Is(err, checkin.ErrConfirmInFlight):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, checkin.ErrConfirmFailed):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		s.logger.Error("Check-in confirm failed", zap.Error(err))
		http.Error(w, "Check-in confirm failed", http.StatusInternalServerError)
	}
}

func (s *ControlServer) handleLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Lat == nil || req.Lng == nil || !validCoordinate(*req.Lat, 90) || !validCoordinate(*req.Lng, 180) {
		http.Error(w, "lat and lng are required", http.StatusBadRequest)
		return
	}

	s.locator.Record(*req.Lat, *req.Lng, req.Address)
	loc, _ := s.locator.Last()
	writeJSON(w, http.StatusOK, loc)
}

func (s *ControlServer) handleService(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	s.locator.SetActiveService(req.ServiceID)
	writeJSON(w, http.StatusOK, map[string]string{"active_service": s.locator.ActiveService()})
}

func (s *ControlServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *ControlServer) snapshot() StatusResponse {
	st := StatusResponse{
		Session: s.session,
		Alarm:   s.alarm.Status(),
		Checkin: s.panel.State(),
		Pending: s.emitter.Pending(),
		Service: s.locator.ActiveService(),
	}
	if loc, ok := s.locator.Last(); ok {
		st.Location = &loc
	}
	return st
}

// handleEvents streams hub notifications as server-sent events. The first frame is
// the current status so a page that connects mid-alarm renders it.
func (s *ControlServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	notes, unsubscribe := s.hub.Subscribe(64)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, "status", s.snapshot()); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case n, open := <-notes:
			if !open {
				return
			}
			if err := writeSSE(w, string(n.Kind), n); err != nil {
				s.logger.Debug("Event stream closed", zap.Error(err))
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleHealth provides a health check endpoint
func (s *ControlServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

func writeSSE(w http.ResponseWriter, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, raw)
	return err
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func validCoordinate(v, limit float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && math.Abs(v) <= limit
}
