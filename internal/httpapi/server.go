package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Pi-Jeremy/gateman/internal/gateman/metrics"
	"github.com/Pi-Jeremy/gateman/internal/gateman/service"
	"github.com/Pi-Jeremy/gateman/internal/gateman/types"
	"github.com/Pi-Jeremy/gateman/internal/gateman/wire"
)

type Dependencies struct {
	Logger     *slog.Logger
	Addr       string
	Metrics    *metrics.Metrics
	Admission  *service.AdmissionService
	Issuer     *service.Issuer
	Events     *service.EventService
	Staff      *service.StaffService
	Attendance *service.Attendance
	Watcher    *service.StatsWatcher

	// Ready reports store health for /healthz. Nil means always healthy.
	Ready func(ctx context.Context) error
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	mux        *http.ServeMux

	admission  *service.AdmissionService
	issuer     *service.Issuer
	events     *service.EventService
	staff      *service.StaffService
	attendance *service.Attendance
	watcher    *service.StatsWatcher
	ready      func(ctx context.Context) error
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:     d.Logger,
		mux:        mux,
		admission:  d.Admission,
		issuer:     d.Issuer,
		events:     d.Events,
		staff:      d.Staff,
		attendance: d.Attendance,
		watcher:    d.Watcher,
		ready:      d.Ready,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	if d.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("POST /v1/events", s.withCaller(s.handleCreateEvent))
	mux.HandleFunc("GET /v1/events", s.withCaller(s.handleListEvents))
	mux.HandleFunc("GET /v1/events/{event_id}", s.withCaller(s.handleGetEvent))
	mux.HandleFunc("DELETE /v1/events/{event_id}", s.withCaller(s.handleDeleteEvent))

	mux.HandleFunc("POST /v1/events/{event_id}/admit", s.withCaller(s.handleAdmit))
	mux.HandleFunc("POST /v1/events/{event_id}/tickets", s.withCaller(s.handleIssueBatch))
	mux.HandleFunc("GET /v1/events/{event_id}/tickets", s.withCaller(s.handleListTickets))
	mux.HandleFunc("GET /v1/events/{event_id}/stats", s.withCaller(s.handleStats))
	mux.HandleFunc("GET /v1/events/{event_id}/stats/stream", s.withCaller(s.handleStatsStream))
	mux.HandleFunc("GET /v1/events/{event_id}/scan_logs", s.withCaller(s.handleScanLogs))
	mux.HandleFunc("GET /v1/events/{event_id}/staff_stats", s.withCaller(s.handleStaffStats))
	mux.HandleFunc("POST /v1/events/{event_id}/staff", s.withCaller(s.handleAssignStaff))
	mux.HandleFunc("GET /v1/events/{event_id}/staff", s.withCaller(s.handleListStaff))

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Serve runs the server on an existing listener.
func (s *Server) Serve(l net.Listener) error {
	return s.httpServer.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type callerHandler func(w http.ResponseWriter, r *http.Request, c types.Caller)

func (s *Server) withCaller(h callerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := callerFromRequest(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", headerStaffID+" header is required")
			return
		}
		h(w, r, c)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Warn("health check failed", "err", err)
			writeError(w, http.StatusServiceUnavailable, "unhealthy", "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ── Events ───────────────────────────────────────────────────────────────────

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request, c types.Caller) {
	var body createEventBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	ev, err := s.events.CreateEvent(r.Context(), c, body.input())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request, c types.Caller) {
	evs, err := s.events.ListEvents(r.Context(), c)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if evs == nil {
		evs = []types.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request, c types.Caller) {
	ev, err := s.events.GetEvent(r.Context(), c, r.PathValue("event_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request, c types.Caller) {
	eventID := r.PathValue("event_id")
	existed, err := s.events.DeleteEvent(r.Context(), c, eventID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{EventID: eventID, Deleted: existed})
}

// ── Admission and issuance ───────────────────────────────────────────────────

func (s *Server) handleAdmit(w http.ResponseWriter, r *http.Request, c types.Caller) {
	body, err := decodeAdmit(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", err.Error())
		return
	}

	res, err := s.admission.Admit(r.Context(), c, r.PathValue("event_id"), body.TicketCode)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	// Every verdict, including a rejection, is a normal 200 result.
	if wantsProtobuf(r) {
		writeProto(w, http.StatusOK, wire.ValidationResult(res))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleIssueBatch(w http.ResponseWriter, r *http.Request, c types.Caller) {
	body, err := decodeIssue(w, r)
	if errors.Is(err, errBadBody) {
		writeError(w, http.StatusBadRequest, "bad_body", err.Error())
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	eventID := r.PathValue("event_id")
	tickets, err := s.issuer.IssueBatch(r.Context(), c, eventID, body.Quantity)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if wantsProtobuf(r) {
		writeProto(w, http.StatusCreated, wire.Tickets(tickets))
		return
	}
	writeJSON(w, http.StatusCreated, toIssueResponse(eventID, tickets))
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request, c types.Caller) {
	ts, err := s.events.ListTickets(r.Context(), c, r.PathValue("event_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if ts == nil {
		ts = []types.Ticket{}
	}
	writeJSON(w, http.StatusOK, ts)
}

// ── Attendance ───────────────────────────────────────────────────────────────

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, c types.Caller) {
	st, err := s.attendance.Stats(r.Context(), c, r.PathValue("event_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if wantsProtobuf(r) {
		writeProto(w, http.StatusOK, wire.Stats(st))
		return
	}
	writeJSON(w, http.StatusOK, toStatsResponse(st))
}

func (s *Server) handleScanLogs(w http.ResponseWriter, r *http.Request, c types.Caller) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", fmt.Sprintf("limit %q is not a non-negative integer", v))
			return
		}
		limit = n
	}
	logs, err := s.events.ListScanLogs(r.Context(), c, r.PathValue("event_id"), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if logs == nil {
		logs = []types.ScanLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleStaffStats(w http.ResponseWriter, r *http.Request, c types.Caller) {
	board, err := s.events.StaffStats(r.Context(), c, r.PathValue("event_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if board == nil {
		board = []types.StaffScanCount{}
	}
	writeJSON(w, http.StatusOK, board)
}

// ── Staff ────────────────────────────────────────────────────────────────────

func (s *Server) handleAssignStaff(w http.ResponseWriter, r *http.Request, c types.Caller) {
	var body assignBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	a, err := s.staff.Assign(r.Context(), c, body.StaffID, r.PathValue("event_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleListStaff(w http.ResponseWriter, r *http.Request, c types.Caller) {
	list, err := s.staff.ListAssignments(r.Context(), c, r.PathValue("event_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []types.StaffAssignment{}
	}
	writeJSON(w, http.StatusOK, list)
}
