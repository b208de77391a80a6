package www

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"firecore/config"
	"firecore/engine"
	"firecore/protocol"
	"firecore/store"
)

type testServer struct {
	eng    *engine.Engine
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Defaults()
	cfg.Database.SQLite.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.Messaging.Backend = "none"
	db, err := store.Open(&cfg.Database)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reg := prometheus.NewRegistry()
	eng := engine.New(engine.Config{AppConfig: cfg, DB: db, Registerer: reg, Logger: zerolog.Nop()})
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(eng.Stop)

	router, stop := NewRouter(eng, Options{Logger: zerolog.Nop(), Registry: reg})
	t.Cleanup(stop)
	return &testServer{eng: eng, router: router}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func reportBody(emergencyType, priority string) map[string]any {
	return map[string]any{
		"reporterName":  "Ana",
		"address":       "1 Main St",
		"latitude":      40.1,
		"longitude":     -3.7,
		"emergencyType": emergencyType,
		"priority":      priority,
	}
}

func waitOutcome(t *testing.T, s *testServer, dispatchID int64) map[string]any {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rec := s.do(t, http.MethodGet, "/api/dispatches/"+itoa(dispatchID)+"/outcome", nil)
		if rec.Code == http.StatusOK {
			return decode[map[string]any](t, rec)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no outcome for dispatch %d", dispatchID)
	return nil
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "ok" || body["messaging"] != "disabled" {
		t.Errorf("health = %v", body)
	}
}

func TestCreateReportAndDispatchDetail(t *testing.T) {
	s := newTestServer(t)
	for _, n := range []string{"E-1", "E-2"} {
		rec := s.do(t, http.MethodPost, "/api/units", map[string]any{"unitNumber": n, "unitType": "fire_engine", "latitude": 40, "longitude": -3})
		if rec.Code != http.StatusCreated {
			t.Fatalf("create unit %s: %d %s", n, rec.Code, rec.Body.String())
		}
	}

	rec := s.do(t, http.MethodPost, "/api/reports", reportBody("FIRE", "CRITICAL"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create report: %d %s", rec.Code, rec.Body.String())
	}
	resp := decode[reportResponse](t, rec)
	if resp.Dispatch == nil || resp.Dispatch.DispatchType != protocol.DispatchFireEngine {
		t.Fatalf("dispatch = %+v", resp.Dispatch)
	}
	if !strings.HasPrefix(resp.Report.ReportNumber, "ER") {
		t.Errorf("report number = %q", resp.Report.ReportNumber)
	}

	outcome := waitOutcome(t, s, resp.Dispatch.ID)
	if outcome["kind"] != "success" {
		t.Errorf("outcome = %v", outcome)
	}

	rec = s.do(t, http.MethodGet, "/api/dispatches/"+itoa(resp.Dispatch.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get dispatch: %d", rec.Code)
	}
	detail := decode[dispatchDetail](t, rec)
	if len(detail.Assignments) != 2 || len(detail.Units) != 2 {
		t.Errorf("assignments=%d units=%d, want 2/2", len(detail.Assignments), len(detail.Units))
	}
	if detail.Escalation == nil || detail.Escalation.SupportType != protocol.SupportAdditionalUnits {
		t.Errorf("escalation = %+v", detail.Escalation)
	}

	rec = s.do(t, http.MethodGet, "/api/reports/number/"+resp.Report.ReportNumber, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get by number: %d", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/api/stats/units", nil)
	counts := decode[map[string]any](t, rec)
	if counts["total"] != float64(2) {
		t.Errorf("unit stats = %v", counts)
	}
}

func TestCreateReportValidation(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"missing name", map[string]any{"address": "x", "emergencyType": "FIRE", "priority": "LOW"}, http.StatusBadRequest},
		{"bad priority", reportBody("FIRE", "URGENT"), http.StatusBadRequest},
		{"bad latitude", func() map[string]any { b := reportBody("FIRE", "LOW"); b["latitude"] = 123.0; return b }(), http.StatusBadRequest},
		{"unknown field", func() map[string]any { b := reportBody("FIRE", "LOW"); b["extra"] = 1; return b }(), http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/reports", tc.body)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestUnsupportedTypeKeepsReport(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/reports", reportBody("ALIENS", "LOW"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (%s)", rec.Code, rec.Body.String())
	}
	resp := decode[reportResponse](t, rec)
	if resp.DispatchError == "" || resp.Dispatch != nil {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Report.Status != protocol.ReportReceived {
		t.Errorf("report status = %q, want RECEIVED", resp.Report.Status)
	}
}

func TestSetStatusErrors(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/reports", reportBody("RESCUE", "LOW"))
	resp := decode[reportResponse](t, rec)
	waitOutcome(t, s, resp.Dispatch.ID)
	reportPath := "/api/reports/" + itoa(resp.Report.ID) + "/status"

	tests := []struct {
		name   string
		path   string
		status string
		want   int
	}{
		{"bad kind", "/api/widgets/1/status", "CLOSED", http.StatusBadRequest},
		{"unknown status", reportPath, "EXPLODED", http.StatusBadRequest},
		{"missing entity", "/api/reports/9999/status", "CANCELLED", http.StatusNotFound},
		{"cancel", reportPath, protocol.ReportCancelled, http.StatusOK},
		{"cancel again", reportPath, protocol.ReportCancelled, http.StatusOK},
		{"complete after cancel", reportPath, protocol.ReportCompleted, http.StatusConflict},
		{"reopen", reportPath, protocol.ReportReceived, http.StatusConflict},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPatch, tc.path, map[string]string{"status": tc.status})
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestUnfulfilledStat(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/reports", reportBody("MEDICAL", "LOW"))
	resp := decode[reportResponse](t, rec)
	outcome := waitOutcome(t, s, resp.Dispatch.ID)
	if outcome["kind"] != "skipped" || outcome["reason"] != "resource_unavailable" {
		t.Errorf("outcome = %v", outcome)
	}
	got := decode[map[string]int](t, s.do(t, http.MethodGet, "/api/stats/unfulfilled", nil))
	if got["unfulfilled"] != 1 {
		t.Errorf("unfulfilled = %d, want 1", got["unfulfilled"])
	}
}

func TestStationsAndUnitLocation(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/stations", map[string]any{"name": "Station 1", "latitude": 40, "longitude": -3})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create station: %d %s", rec.Code, rec.Body.String())
	}
	st := decode[store.Station](t, rec)

	rec = s.do(t, http.MethodPost, "/api/units", map[string]any{"unitNumber": "A-1", "unitType": "AMBULANCE", "stationId": st.ID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create unit: %d %s", rec.Code, rec.Body.String())
	}
	u := decode[store.Unit](t, rec)

	rec = s.do(t, http.MethodPost, "/api/units", map[string]any{"unitNumber": "A-1", "unitType": "AMBULANCE"})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate unit: %d, want 409", rec.Code)
	}
	rec = s.do(t, http.MethodPost, "/api/units", map[string]any{"unitNumber": "X-1", "unitType": "HOVERCRAFT"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad type: %d, want 400", rec.Code)
	}

	rec = s.do(t, http.MethodPut, "/api/units/"+itoa(u.ID)+"/location", map[string]float64{"latitude": 41.5, "longitude": 2.1})
	if rec.Code != http.StatusOK {
		t.Fatalf("update location: %d %s", rec.Code, rec.Body.String())
	}

	units := decode[[]map[string]any](t, s.do(t, http.MethodGet, "/api/units?type=ambulance&status=available", nil))
	if len(units) != 1 || units[0]["latitude"] != 41.5 {
		t.Errorf("units = %v", units)
	}
	stations := decode[[]store.Station](t, s.do(t, http.MethodGet, "/api/stations", nil))
	if len(stations) != 1 {
		t.Errorf("stations = %d, want 1", len(stations))
	}
}

func TestCompleteEscalation(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/reports", reportBody("HAZMAT", "HIGH"))
	resp := decode[reportResponse](t, rec)
	waitOutcome(t, s, resp.Dispatch.ID)

	detail := decode[dispatchDetail](t, s.do(t, http.MethodGet, "/api/dispatches/"+itoa(resp.Dispatch.ID), nil))
	if detail.Escalation == nil {
		t.Fatal("expected escalation for HIGH hazmat")
	}
	escID := itoa(detail.Escalation.ID)
	path := "/api/escalations/" + escID + "/complete"
	rec = s.do(t, http.MethodPost, path, map[string]any{"summary": "too early"})
	if rec.Code != http.StatusConflict {
		t.Errorf("complete from REQUESTED: %d, want 409", rec.Code)
	}
	for _, st := range []string{protocol.EscalationApproved, protocol.EscalationDispatched} {
		if rec := s.do(t, http.MethodPatch, "/api/escalations/"+escID+"/status", map[string]string{"status": st}); rec.Code != http.StatusOK {
			t.Fatalf("escalation -> %s: %d %s", st, rec.Code, rec.Body.String())
		}
	}
	rec = s.do(t, http.MethodPost, path, map[string]any{"summary": "contained", "actualCost": 1200.5, "actualMinutes": 95})
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodPost, path, map[string]any{"actualMinutes": -1})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative minutes: %d, want 400", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	if rec := s.do(t, http.MethodPost, "/api/units", map[string]any{"unitNumber": "L-1", "unitType": "LADDER_TRUCK"}); rec.Code != http.StatusCreated {
		t.Fatalf("create unit: %d", rec.Code)
	}
	rec := s.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"firecore_http_requests_total", "firecore_transitions_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics missing %s", name)
		}
	}
}

func TestSSEStreamsTransitions(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	for i := 0; i < 200; i++ {
		if sseClients(t, s) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if rec := s.do(t, http.MethodPost, "/api/units", map[string]any{"unitNumber": "T-1", "unitType": "RESCUE_VEHICLE"}); rec.Code != http.StatusCreated {
		t.Fatalf("unit: %d %s", rec.Code, rec.Body.String())
	}

	sc := bufio.NewScanner(resp.Body)
	var event string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
			continue
		}
		if event == "transition" && strings.HasPrefix(line, "data: ") {
			var n protocol.TransitionNotice
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &n); err != nil {
				t.Fatalf("notice: %v", err)
			}
			if n.EntityKind != protocol.KindUnit || n.ToStatus != protocol.UnitAvailable || n.FromStatus != "" {
				t.Errorf("notice = %+v", n)
			}
			return
		}
	}
	t.Fatalf("stream ended without a transition event: %v", sc.Err())
}

func sseClients(t *testing.T, s *testServer) int {
	t.Helper()
	body := decode[map[string]any](t, s.do(t, http.MethodGet, "/healthz", nil))
	n, _ := body["sse_clients"].(float64)
	return int(n)
}

func TestListAndLookupRoutes(t *testing.T) {
	s := newTestServer(t)
	var dispatches []*store.Dispatch
	for _, in := range [][2]string{{"FIRE", "HIGH"}, {"MEDICAL", "LOW"}, {"MEDICAL", "HIGH"}} {
		rec := s.do(t, http.MethodPost, "/api/reports", reportBody(in[0], in[1]))
		if rec.Code != http.StatusCreated {
			t.Fatalf("create report: %d %s", rec.Code, rec.Body.String())
		}
		resp := decode[reportResponse](t, rec)
		waitOutcome(t, s, resp.Dispatch.ID)
		dispatches = append(dispatches, resp.Dispatch)
	}

	reports := decode[[]store.Report](t, s.do(t, http.MethodGet, "/api/reports?priority=high", nil))
	if len(reports) != 2 {
		t.Errorf("HIGH reports = %d, want 2", len(reports))
	}
	for _, r := range reports {
		if r.Priority != protocol.PriorityHigh {
			t.Errorf("report %d priority = %q", r.ID, r.Priority)
		}
	}
	reports = decode[[]store.Report](t, s.do(t, http.MethodGet, "/api/reports?status=DISPATCHED&priority=LOW", nil))
	if len(reports) != 1 || reports[0].EmergencyType != protocol.EmergencyMedical {
		t.Errorf("DISPATCHED/LOW reports = %+v", reports)
	}
	for _, q := range []string{"?priority=urgent", "?status=LOST"} {
		if rec := s.do(t, http.MethodGet, "/api/reports"+q, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("reports%s: %d, want 400", q, rec.Code)
		}
	}

	ds := decode[[]store.Dispatch](t, s.do(t, http.MethodGet, "/api/dispatches?status=DISPATCHED", nil))
	if len(ds) != 3 {
		t.Errorf("DISPATCHED dispatches = %d, want 3", len(ds))
	}
	if ds = decode[[]store.Dispatch](t, s.do(t, http.MethodGet, "/api/dispatches?limit=1", nil)); len(ds) != 1 || ds[0].ID != dispatches[2].ID {
		t.Errorf("limited dispatches = %+v, want newest only", ds)
	}
	if rec := s.do(t, http.MethodGet, "/api/dispatches?status=RECEIVED", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("dispatch status RECEIVED: %d, want 400", rec.Code)
	}

	rec := s.do(t, http.MethodGet, "/api/dispatches/number/"+dispatches[0].DispatchNumber, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("dispatch by number: %d", rec.Code)
	}
	if detail := decode[dispatchDetail](t, rec); detail.Dispatch.ID != dispatches[0].ID || detail.Escalation == nil {
		t.Errorf("detail = %+v", detail)
	}
	if rec := s.do(t, http.MethodGet, "/api/dispatches/number/DISP-NOPE", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown number: %d, want 404", rec.Code)
	}

	escs := decode[[]store.Escalation](t, s.do(t, http.MethodGet, "/api/escalations?status=REQUESTED", nil))
	if len(escs) != 2 {
		t.Fatalf("REQUESTED escalations = %d, want 2", len(escs))
	}
	if rec := s.do(t, http.MethodGet, "/api/escalations?status=COMPLETED", nil); rec.Code != http.StatusOK {
		t.Errorf("COMPLETED escalations: %d", rec.Code)
	} else if got := decode[[]store.Escalation](t, rec); len(got) != 0 {
		t.Errorf("COMPLETED escalations = %d, want 0", len(got))
	}
	rec = s.do(t, http.MethodGet, "/api/escalations/"+itoa(escs[0].ID), nil)
	if rec.Code != http.StatusOK || decode[store.Escalation](t, rec).ID != escs[0].ID {
		t.Errorf("get escalation: %d %s", rec.Code, rec.Body.String())
	}
	if rec := s.do(t, http.MethodGet, "/api/escalations?status=OPEN", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("escalation status OPEN: %d, want 400", rec.Code)
	}
}

func TestReassignAtUnitCapConflicts(t *testing.T) {
	s := newTestServer(t)
	for _, n := range []string{"E-1", "E-2", "E-3", "E-4"} {
		if rec := s.do(t, http.MethodPost, "/api/units", map[string]any{"unitNumber": n, "unitType": "FIRE_ENGINE"}); rec.Code != http.StatusCreated {
			t.Fatalf("create unit %s: %d", n, rec.Code)
		}
	}
	resp := decode[reportResponse](t, s.do(t, http.MethodPost, "/api/reports", reportBody("FIRE", "LOW")))
	waitOutcome(t, s, resp.Dispatch.ID)

	rec := s.do(t, http.MethodPost, "/api/dispatches/"+itoa(resp.Dispatch.ID)+"/reassign", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("reassign at cap: %d, want 409", rec.Code)
	}
	units := decode[[]store.Unit](t, s.do(t, http.MethodGet, "/api/units?status=DISPATCHED", nil))
	if len(units) != 3 {
		t.Errorf("dispatched units = %d, want 3", len(units))
	}
}
