package httpapi_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Pi-Jeremy/gateman/internal/gateman/codegen"
	"github.com/Pi-Jeremy/gateman/internal/gateman/metrics"
	"github.com/Pi-Jeremy/gateman/internal/gateman/notify"
	"github.com/Pi-Jeremy/gateman/internal/gateman/service"
	"github.com/Pi-Jeremy/gateman/internal/gateman/store/memory"
	"github.com/Pi-Jeremy/gateman/internal/gateman/types"
	"github.com/Pi-Jeremy/gateman/internal/gateman/wire"
	"github.com/Pi-Jeremy/gateman/internal/httpapi"
)

// newTestServer wires up the full dependency graph using the in-memory
// store and returns an httptest.Server.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()
	deps := service.Deps{Notifier: notify.NewHub(), Metrics: metrics.New(), Logger: logger}
	auth := service.NewAuthorizer(st)
	gen, err := codegen.NewRandom(codegen.DefaultLength)
	require.NoError(t, err)
	att := service.NewAttendance(st, auth, deps)

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:     logger,
		Addr:       ":0",
		Metrics:    deps.Metrics,
		Admission:  service.NewAdmissionService(st, auth, time.Second, deps),
		Issuer:     service.NewIssuer(st, auth, gen, service.IssuerConfig{}, deps),
		Events:     service.NewEventService(st, auth, deps),
		Staff:      service.NewStaffService(st, auth, deps),
		Attendance: att,
		Watcher:    service.NewStatsWatcher(att, 50*time.Millisecond, deps),
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path, staff, role string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if staff != "" {
		req.Header.Set("X-Staff-ID", staff)
		req.Header.Set("X-Staff-Role", role)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func createEvent(t *testing.T, ts *httptest.Server, limit int) types.Event {
	t.Helper()
	resp := do(t, ts, http.MethodPost, "/v1/events", "admin-1", "admin", map[string]any{
		"name":         "Launch",
		"date":         "2026-11-01T20:00:00Z",
		"ticket_price": "15.00",
		"ticket_limit": limit,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[types.Event](t, resp)
}

type issued struct {
	EventID string `json:"event_id"`
	Tickets []struct {
		ID         string `json:"id"`
		TicketCode string `json:"ticket_code"`
	} `json:"tickets"`
}

func issue(t *testing.T, ts *httptest.Server, eventID string, n int) issued {
	t.Helper()
	resp := do(t, ts, http.MethodPost, "/v1/events/"+eventID+"/tickets", "admin-1", "ADMIN", map[string]any{"quantity": n})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[issued](t, resp)
}

// ── Admission ────────────────────────────────────────────────────────────────

func TestAdmit_SuccessThenDuplicate(t *testing.T) {
	ts := newTestServer(t)
	ev := createEvent(t, ts, 10)
	batch := issue(t, ts, ev.ID, 2)
	code := batch.Tickets[0].TicketCode

	resp := do(t, ts, http.MethodPost, "/v1/events/"+ev.ID+"/admit", "admin-1", "ADMIN", map[string]string{"ticket_code": code})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, types.StatusSuccess, decode[types.ValidationResult](t, resp).Status)

	resp = do(t, ts, http.MethodPost, "/v1/events/"+ev.ID+"/admit", "admin-1", "ADMIN", map[string]string{"ticket_code": code})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, types.StatusAlreadyScanned, decode[types.ValidationResult](t, resp).Status)

	resp = do(t, ts, http.MethodPost, "/v1/events/"+ev.ID+"/admit", "admin-1", "ADMIN", map[string]string{"ticket_code": "UNKNOWN"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, types.StatusNotFound, decode[types.ValidationResult](t, resp).Status)
}

func TestAdmit_Protobuf(t *testing.T) {
	ts := newTestServer(t)
	ev := createEvent(t, ts, 10)
	code := issue(t, ts, ev.ID, 1).Tickets[0].TicketCode

	msg, err := structpb.NewStruct(map[string]any{"ticket_code": code})
	require.NoError(t, err)
	body, err := proto.Marshal(msg)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/events/"+ev.ID+"/admit", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("X-Staff-ID", "admin-1")
	req.Header.Set("X-Staff-Role", "ADMIN")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-protobuf", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out structpb.Struct
	require.NoError(t, proto.Unmarshal(raw, &out))
	assert.Equal(t, "SUCCESS", wire.String(&out, "status"))
}

func TestAdmit_MissingIdentity(t *testing.T) {
	ts := newTestServer(t)
	resp := do(t, ts, http.MethodPost, "/v1/events/ev/admit", "", "", map[string]string{"ticket_code": "X"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdmit_UnassignedVendorForbidden(t *testing.T) {
	ts := newTestServer(t)
	ev := createEvent(t, ts, 10)
	resp := do(t, ts, http.MethodPost, "/v1/events/"+ev.ID+"/admit", "vendor-1", "VENDOR", map[string]string{"ticket_code": "X"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = do(t, ts, http.MethodPost, "/v1/events/"+ev.ID+"/staff", "admin-1", "ADMIN", map[string]string{"staff_id": "vendor-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, ts, http.MethodPost, "/v1/events/"+ev.ID+"/admit", "vendor-1", "VENDOR", map[string]string{"ticket_code": "X"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, ts, http.MethodPost, "/v1/events/"+ev.ID+"/staff", "admin-1", "ADMIN", map[string]string{"staff_id": "vendor-1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAdmit_BadJSON(t *testing.T) {
	ts := newTestServer(t)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/events/ev/admit", strings.NewReader("{not json"))
	require.NoError(t, err)
	req.Header.Set("X-Staff-ID", "admin-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ── Issuance ─────────────────────────────────────────────────────────────────

func TestIssueBatch_OverLimitIsConflict(t *testing.T) {
	ts := newTestServer(t)
	ev := createEvent(t, ts, 3)

	resp := do(t, ts, http.MethodPost, "/v1/events/"+ev.ID+"/tickets", "admin-1", "ADMIN", map[string]any{"quantity": 4})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, ts, http.MethodPost, "/v1/events/"+ev.ID+"/tickets", "admin-1", "ADMIN", map[string]any{"quantity": 0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, ts, http.MethodPost, "/v1/events/missing/tickets", "admin-1", "ADMIN", map[string]any{"quantity": 1})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ── Stats, delete ────────────────────────────────────────────────────────────

func TestStatsAndDelete(t *testing.T) {
	ts := newTestServer(t)
	ev := createEvent(t, ts, 10)
	batch := issue(t, ts, ev.ID, 3)
	do(t, ts, http.MethodPost, "/v1/events/"+ev.ID+"/admit", "admin-1", "ADMIN", map[string]string{"ticket_code": batch.Tickets[0].TicketCode})

	resp := do(t, ts, http.MethodGet, "/v1/events/"+ev.ID+"/stats", "admin-1", "ADMIN", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[map[string]any](t, resp)
	assert.EqualValues(t, 1, st["scanned"])
	assert.EqualValues(t, 3, st["total"])
	assert.EqualValues(t, 2, st["remaining"])

	resp = do(t, ts, http.MethodDelete, "/v1/events/"+ev.ID, "admin-1", "ADMIN", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[map[string]any](t, resp)["deleted"].(bool))

	resp = do(t, ts, http.MethodDelete, "/v1/events/"+ev.ID, "admin-1", "ADMIN", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[map[string]any](t, resp)["deleted"].(bool))

	resp = do(t, ts, http.MethodGet, "/v1/events/"+ev.ID+"/stats", "admin-1", "ADMIN", nil)
	st = decode[map[string]any](t, resp)
	assert.EqualValues(t, 0, st["total"])

	resp = do(t, ts, http.MethodGet, "/v1/events/"+ev.ID, "admin-1", "ADMIN", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestScanLogsAndLeaderboard(t *testing.T) {
	ts := newTestServer(t)
	ev := createEvent(t, ts, 10)
	batch := issue(t, ts, ev.ID, 1)
	code := batch.Tickets[0].TicketCode
	do(t, ts, http.MethodPost, "/v1/events/"+ev.ID+"/admit", "admin-1", "ADMIN", map[string]string{"ticket_code": code})
	do(t, ts, http.MethodPost, "/v1/events/"+ev.ID+"/admit", "admin-2", "ADMIN", map[string]string{"ticket_code": code})

	resp := do(t, ts, http.MethodGet, "/v1/events/"+ev.ID+"/scan_logs?limit=1", "admin-1", "ADMIN", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	logs := decode[[]types.ScanLog](t, resp)
	require.Len(t, logs, 1)
	assert.Equal(t, "admin-2", logs[0].StaffID)

	resp = do(t, ts, http.MethodGet, "/v1/events/"+ev.ID+"/scan_logs?limit=x", "admin-1", "ADMIN", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, ts, http.MethodGet, "/v1/events/"+ev.ID+"/staff_stats", "admin-1", "ADMIN", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []types.StaffScanCount{{StaffID: "admin-1", Count: 1}}, decode[[]types.StaffScanCount](t, resp))
}

func TestListEvents_VendorSeesAssignedOnly(t *testing.T) {
	ts := newTestServer(t)
	a := createEvent(t, ts, 10)
	createEvent(t, ts, 10)
	do(t, ts, http.MethodPost, "/v1/events/"+a.ID+"/staff", "admin-1", "ADMIN", map[string]string{"staff_id": "vendor-1"})

	resp := do(t, ts, http.MethodGet, "/v1/events", "vendor-1", "VENDOR", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	evs := decode[[]types.Event](t, resp)
	require.Len(t, evs, 1)
	assert.Equal(t, a.ID, evs[0].ID)
}

func TestStatsStream(t *testing.T) {
	ts := newTestServer(t)
	ev := createEvent(t, ts, 10)
	batch := issue(t, ts, ev.ID, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events/"+ev.ID+"/stats/stream", nil)
	require.NoError(t, err)
	req.Header.Set("X-Staff-ID", "admin-1")
	req.Header.Set("X-Staff-Role", "ADMIN")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	nextData := func() map[string]any {
		for sc.Scan() {
			line := sc.Text()
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var m map[string]any
				require.NoError(t, json.Unmarshal([]byte(data), &m))
				return m
			}
		}
		t.Fatalf("stream ended: %v", sc.Err())
		return nil
	}

	assert.EqualValues(t, 0, nextData()["scanned"])

	do(t, ts, http.MethodPost, "/v1/events/"+ev.ID+"/admit", "admin-1", "ADMIN", map[string]string{"ticket_code": batch.Tickets[1].TicketCode})
	assert.EqualValues(t, 1, nextData()["scanned"])
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ev := createEvent(t, ts, 1)
	do(t, ts, http.MethodPost, "/v1/events/"+ev.ID+"/admit", "admin-1", "ADMIN", map[string]string{"ticket_code": "NOPE"})

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), `gateman_admissions_total{status="NOT_FOUND"} 1`)
}
