package lifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"firecore/config"
	"firecore/protocol"
	"firecore/store"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []*store.Transition
}

func (r *recordingEmitter) EmitTransition(t *store.Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, t)
}

func (r *recordingEmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testMachine(t *testing.T) (*Machine, *store.DB, *recordingEmitter) {
	t.Helper()
	db := testDB(t)
	em := &recordingEmitter{}
	m := New(db, em, Config{TransitionsTopic: "firecore.transitions", NodeID: "test", RetryLimit: 5}, zerolog.Nop())
	return m, db, em
}

// newDispatch creates a report and a DISPATCHED dispatch through the machine.
func newDispatch(t *testing.T, m *Machine) int64 {
	t.Helper()
	ctx := context.Background()
	var reportID int64
	_, err := m.Create(ctx, protocol.KindReport, func(tx *store.Tx) (int64, string, error) {
		r := &store.Report{ReportNumber: "ER-" + time.Now().Format("150405.000000000"), EmergencyType: protocol.EmergencyFire,
			Priority: protocol.PriorityHigh, Status: protocol.ReportReceived}
		err := tx.InsertReport(ctx, r)
		reportID = r.ID
		return r.ID, r.Status, err
	})
	if err != nil {
		t.Fatalf("create report: %v", err)
	}
	tr, err := m.Create(ctx, protocol.KindDispatch, func(tx *store.Tx) (int64, string, error) {
		d := &store.Dispatch{DispatchNumber: "DISP-" + time.Now().Format("150405.000000000"), ReportID: reportID,
			DispatchType: protocol.DispatchFireEngine, Priority: protocol.PriorityHigh, Status: protocol.DispatchDispatched}
		err := tx.InsertDispatch(ctx, d)
		return d.ID, d.Status, err
	})
	if err != nil {
		t.Fatalf("create dispatch: %v", err)
	}
	return tr.EntityID
}

func TestCreateRecordsTransitionAndOutbox(t *testing.T) {
	m, db, em := testMachine(t)
	ctx := context.Background()
	id := newDispatch(t, m)

	if em.count() != 2 {
		t.Fatalf("events = %d, want 2", em.count())
	}
	last := em.events[1]
	if last.FromStatus != "" || last.ToStatus != protocol.DispatchDispatched || last.EntityID != id {
		t.Errorf("creation event = %+v", last)
	}
	n, _ := db.CountPendingOutbox(ctx)
	if n != 2 {
		t.Errorf("outbox = %d, want 2", n)
	}
}

func TestApplyStampsFromTable(t *testing.T) {
	m, db, _ := testMachine(t)
	ctx := context.Background()
	id := newDispatch(t, m)

	arrived := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	st, err := m.Apply(ctx, protocol.KindDispatch, id, 1, protocol.DispatchOnScene, &arrived)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if st.Version != 2 || st.Status != protocol.DispatchOnScene {
		t.Errorf("state = %+v", st)
	}
	st, err = m.Apply(ctx, protocol.KindDispatch, id, 2, protocol.DispatchCompleted, nil)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	d, _ := db.GetDispatch(ctx, id)
	if d.ArrivedAt == nil || !d.ArrivedAt.Equal(arrived) {
		t.Errorf("ArrivedAt = %v, want %v", d.ArrivedAt, arrived)
	}
	if d.CompletedAt == nil {
		t.Error("CompletedAt should be stamped")
	}
	if d.EnRouteAt != nil {
		t.Error("EnRouteAt should stay unset when EN_ROUTE was skipped")
	}
	if d.Version != st.Version {
		t.Errorf("stored version = %d, want %d", d.Version, st.Version)
	}
}

func TestReapplySameStatusIsNoop(t *testing.T) {
	m, _, em := testMachine(t)
	ctx := context.Background()
	id := newDispatch(t, m)

	st, err := m.Apply(ctx, protocol.KindDispatch, id, 1, protocol.DispatchEnRoute, nil)
	if err != nil {
		t.Fatal(err)
	}
	before := em.count()

	again, err := m.Apply(ctx, protocol.KindDispatch, id, st.Version, protocol.DispatchEnRoute, nil)
	if err != nil {
		t.Fatalf("reapply: %v", err)
	}
	if !again.Noop {
		t.Error("expected Noop")
	}
	if again.Version != st.Version {
		t.Errorf("version = %d, want %d", again.Version, st.Version)
	}
	if em.count() != before {
		t.Errorf("events = %d, want %d (no duplicate)", em.count(), before)
	}
}

func TestTransitionTableClosure(t *testing.T) {
	m, db, _ := testMachine(t)
	ctx := context.Background()

	// Every status pair for dispatches: a successful Apply must be in the table,
	// a rejected one must not.
	statuses := []string{
		protocol.DispatchDispatched, protocol.DispatchEnRoute, protocol.DispatchOnScene,
		protocol.DispatchCompleted, protocol.DispatchCancelled, "RETURNING", "BOGUS",
	}
	tbl, _ := TableFor(protocol.KindDispatch)
	for _, from := range statuses[:5] {
		for _, to := range statuses {
			id := newDispatch(t, m)
			v := 1
			if from != protocol.DispatchDispatched {
				// Drive the fresh dispatch to `from` through a direct path.
				st, err := m.Apply(ctx, protocol.KindDispatch, id, v, from, nil)
				if err != nil {
					t.Fatalf("setup %s: %v", from, err)
				}
				v = st.Version
			}
			st, err := m.Apply(ctx, protocol.KindDispatch, id, v, to, nil)
			switch {
			case from == to:
				if err != nil || !st.Noop {
					t.Errorf("%s -> %s: want noop, got %+v, %v", from, to, st, err)
				}
			case tbl.Allowed(from, to):
				if err != nil {
					t.Errorf("%s -> %s: unexpected error %v", from, to, err)
				}
			default:
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("%s -> %s: err = %v, want ErrInvalidTransition", from, to, err)
				}
				cur, _ := db.LoadStatus(ctx, protocol.KindDispatch, id)
				if cur.Status != from {
					t.Errorf("%s -> %s: status changed to %s on rejection", from, to, cur.Status)
				}
			}
		}
	}
}

func TestConcurrentApplySameVersion(t *testing.T) {
	m, _, _ := testMachine(t)
	ctx := context.Background()
	id := newDispatch(t, m)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Apply(ctx, protocol.KindDispatch, id, 1, protocol.DispatchOnScene, nil)
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrConcurrentModification):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != 1 {
		t.Errorf("ok=%d conflicts=%d, want 1 and 1", ok, conflicts)
	}
}

func TestConcurrentSetStatusRetryIsNoop(t *testing.T) {
	m, db, em := testMachine(t)
	ctx := context.Background()
	id := newDispatch(t, m)
	before := em.count()

	var wg sync.WaitGroup
	states := make([]State, 2)
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			states[i], errs[i] = m.ApplyWithRetry(ctx, protocol.KindDispatch, id, 1, protocol.DispatchOnScene, nil)
		}(i)
	}
	wg.Wait()

	noops := 0
	for i, err := range errs {
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if states[i].Noop {
			noops++
		}
	}
	if noops != 1 {
		t.Errorf("noops = %d, want 1", noops)
	}
	if em.count()-before != 1 {
		t.Errorf("events = %d, want exactly 1", em.count()-before)
	}
	d, _ := db.GetDispatch(ctx, id)
	if d.Version != 2 {
		t.Errorf("version = %d, want 2", d.Version)
	}
}

func TestCompletedRejectsEnRoute(t *testing.T) {
	m, _, _ := testMachine(t)
	ctx := context.Background()
	id := newDispatch(t, m)
	if _, err := m.SetStatus(ctx, protocol.KindDispatch, id, protocol.DispatchCompleted); err != nil {
		t.Fatal(err)
	}

	_, err := m.SetStatus(ctx, protocol.KindDispatch, id, protocol.DispatchEnRoute)
	var inv *InvalidTransitionError
	if !errors.As(err, &inv) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}
	if inv.From != protocol.DispatchCompleted || inv.To != protocol.DispatchEnRoute {
		t.Errorf("transition = %s -> %s", inv.From, inv.To)
	}
	if inv.Reason != "COMPLETED is terminal" {
		t.Errorf("reason = %q", inv.Reason)
	}
}

func TestRetryExhausted(t *testing.T) {
	db := testDB(t)
	m := New(db, nil, Config{RetryLimit: 1}, zerolog.Nop())
	ctx := context.Background()
	id := newDispatch(t, m)

	_, err := m.ApplyWithRetry(ctx, protocol.KindDispatch, id, 7, protocol.DispatchEnRoute, nil)
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("err = %v, want ErrRetryExhausted", err)
	}
}

func TestRequireFrom(t *testing.T) {
	m, _, _ := testMachine(t)
	ctx := context.Background()
	tr, err := m.Create(ctx, protocol.KindUnit, func(tx *store.Tx) (int64, string, error) {
		u := &store.Unit{UnitNumber: "E-1", UnitType: protocol.UnitFireEngine, Status: protocol.UnitMaintenance}
		err := tx.InsertUnit(ctx, u)
		return u.ID, u.Status, err
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = m.ApplyRequest(ctx, Request{Kind: protocol.KindUnit, ID: tr.EntityID, Version: 1,
		Target: protocol.UnitDispatched, RequireFrom: protocol.UnitAvailable})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestGuardAbortsWithoutWrite(t *testing.T) {
	m, _, em := testMachine(t)
	ctx := context.Background()
	id := newDispatch(t, m)
	before := em.count()

	errHeld := errors.New("held elsewhere")
	_, err := m.ApplyRequestWithRetry(ctx, Request{Kind: protocol.KindDispatch, ID: id, Target: protocol.DispatchEnRoute,
		Guard: func(tx *store.Tx) error { return errHeld }})
	if !errors.Is(err, errHeld) {
		t.Fatalf("err = %v, want guard error", err)
	}
	st, _ := m.Get(ctx, protocol.KindDispatch, id)
	if st.Status != protocol.DispatchDispatched || st.Version != 1 {
		t.Errorf("state = %+v, want untouched", st)
	}
	if em.count() != before {
		t.Errorf("events = %d, want %d", em.count(), before)
	}

	st, err = m.ApplyRequestWithRetry(ctx, Request{Kind: protocol.KindDispatch, ID: id, Target: protocol.DispatchEnRoute,
		Guard: func(tx *store.Tx) error {
			d, err := tx.GetDispatch(ctx, id)
			if err != nil {
				return err
			}
			if d.Status != protocol.DispatchDispatched {
				return errHeld
			}
			return nil
		}})
	if err != nil || st.Status != protocol.DispatchEnRoute {
		t.Errorf("guarded apply = %+v, %v", st, err)
	}
}

func TestUnknownEntity(t *testing.T) {
	m, _, _ := testMachine(t)
	_, err := m.Apply(context.Background(), protocol.KindDispatch, 999, 1, protocol.DispatchEnRoute, nil)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want store.ErrNotFound", err)
	}
	_, err = m.SetStatus(context.Background(), "personnel", 1, "X")
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("err = %v, want ErrUnknownKind", err)
	}
}
