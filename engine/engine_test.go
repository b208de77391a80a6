package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"firecore/config"
	"firecore/dispatch"
	"firecore/intake"
	"firecore/protocol"
	"firecore/store"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Defaults()
	cfg.Database.SQLite.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.Messaging.Backend = "none"
	db, err := store.Open(&cfg.Database)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	e := New(Config{AppConfig: cfg, DB: db, Registerer: prometheus.NewRegistry(), Logger: zerolog.Nop()})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(e.Stop)
	return e
}

func waitTask(t *testing.T, task *dispatch.Task) dispatch.Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	o, err := task.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	return o
}

func input(emergencyType, priority string) intake.ReportInput {
	return intake.ReportInput{ReporterName: "Lee", Address: "9 Pine", Latitude: 1, Longitude: 1, EmergencyType: emergencyType, Priority: priority}
}

func TestEventBusFilterAndRecover(t *testing.T) {
	bus := NewEventBus(zerolog.Nop())
	var all, filtered int
	bus.Subscribe(func(Event) { panic("bad subscriber") })
	bus.Subscribe(func(Event) { all++ })
	id := bus.SubscribeTypes(func(Event) { filtered++ }, EventUnfulfilled)

	bus.Emit(Event{Type: EventUnfulfilled})
	bus.Emit(Event{Type: EventUnitArrived})
	if all != 2 || filtered != 1 {
		t.Errorf("all=%d filtered=%d, want 2/1", all, filtered)
	}
	bus.Unsubscribe(id)
	bus.Emit(Event{Type: EventUnfulfilled})
	if filtered != 1 {
		t.Errorf("unsubscribed handler called")
	}
}

func TestCriticalFireEndToEnd(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	for _, n := range []string{"E-1", "E-2"} {
		if err := e.Units().CreateUnit(ctx, &store.Unit{UnitNumber: n, UnitType: protocol.UnitFireEngine}); err != nil {
			t.Fatalf("create unit: %v", err)
		}
	}

	r, task, err := e.Intake().CreateReport(ctx, input("FIRE", "CRITICAL"))
	if err != nil {
		t.Fatalf("create report: %v", err)
	}
	o := waitTask(t, task)
	if o.Kind != dispatch.OutcomeSuccess || len(o.Assignments) != 2 || o.Escalation == nil {
		t.Fatalf("outcome = %+v", o)
	}

	dc := e.Stats().GetCounts(protocol.KindDispatch)
	if dc.Total != 1 || dc.ActiveByStatus[protocol.DispatchDispatched] != 1 {
		t.Errorf("dispatch counts = %+v", dc)
	}
	uc := e.Stats().GetCounts(protocol.KindUnit)
	if uc.Total != 2 || uc.ActiveByStatus[protocol.UnitDispatched] != 2 {
		t.Errorf("unit counts = %+v", uc)
	}
	if ec := e.Stats().GetCounts(protocol.KindEscalation); ec.Total != 1 {
		t.Errorf("escalation total = %d, want 1", ec.Total)
	}

	d := o.Assignments[0].DispatchID
	for _, s := range []string{protocol.DispatchEnRoute, protocol.DispatchOnScene, protocol.DispatchCompleted} {
		if _, err := e.Machine().SetStatus(ctx, protocol.KindDispatch, d, s); err != nil {
			t.Fatalf("set %s: %v", s, err)
		}
	}
	rep, _ := e.DB().GetReport(ctx, r.ID)
	if rep.Status != protocol.ReportCompleted {
		t.Errorf("report = %q, want COMPLETED", rep.Status)
	}
	dc = e.Stats().GetCounts(protocol.KindDispatch)
	if len(dc.ActiveByStatus) != 0 {
		t.Errorf("active dispatches = %v, want none", dc.ActiveByStatus)
	}
	uc = e.Stats().GetCounts(protocol.KindUnit)
	if uc.ActiveByStatus[protocol.UnitReturning] != 2 {
		t.Errorf("unit counts = %+v, want 2 RETURNING", uc)
	}
	board, _ := e.Units().ListUnits(ctx, store.UnitFilter{Status: protocol.UnitReturning})
	if len(board) != 2 {
		t.Errorf("board RETURNING = %d, want 2", len(board))
	}

	entries, _ := e.DB().ListEntityAudit(ctx, "dispatch", d)
	if len(entries) < 5 {
		t.Errorf("dispatch audit entries = %d, want created, planned, assigned and status rows", len(entries))
	}
}

func TestLowMedicalNoAmbulancesCountsUnfulfilled(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	_, task, err := e.Intake().CreateReport(ctx, input("MEDICAL", "LOW"))
	if err != nil {
		t.Fatalf("create report: %v", err)
	}
	o := waitTask(t, task)
	if o.Kind != dispatch.OutcomeSkipped || o.Escalation != nil {
		t.Errorf("outcome = %+v", o)
	}
	if got := e.Stats().Unfulfilled(); got != 1 {
		t.Errorf("unfulfilled = %d, want 1", got)
	}
	if got := e.Stats().GetCounts(protocol.KindEscalation).Total; got != 0 {
		t.Errorf("escalations = %d, want 0", got)
	}
}

func TestRestartRebuildsStats(t *testing.T) {
	cfg := config.Defaults()
	cfg.Database.SQLite.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.Messaging.Backend = "none"
	ctx := context.Background()

	db, err := store.Open(&cfg.Database)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	e := New(Config{AppConfig: cfg, DB: db, Registerer: prometheus.NewRegistry(), Logger: zerolog.Nop()})
	e.Start(ctx)
	_, task, err := e.Intake().CreateReport(ctx, input("RESCUE", "MEDIUM"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	waitTask(t, task)
	e.Stop()
	db.Close()

	db, err = store.Open(&cfg.Database)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	e = New(Config{AppConfig: cfg, DB: db, Registerer: prometheus.NewRegistry(), Logger: zerolog.Nop()})
	if err := e.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer e.Stop()
	if c := e.Stats().GetCounts(protocol.KindReport); c.Total != 1 || c.ActiveByStatus[protocol.ReportDispatched] != 1 {
		t.Errorf("report counts after restart = %+v", c)
	}
}
