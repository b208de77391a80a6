package intake

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"firecore/config"
	"firecore/dispatch"
	"firecore/lifecycle"
	"firecore/protocol"
	"firecore/store"
)

func testService(t *testing.T) (*Service, *store.DB) {
	t.Helper()
	db, err := store.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	m := lifecycle.New(db, nil, lifecycle.Config{RetryLimit: 5}, zerolog.Nop())
	d := dispatch.NewDispatcher(db, m, nil, nil, nil, dispatch.Config{UnitCap: 3, ETAOffset: 15 * time.Minute, Workers: 1, QueueSize: 8}, zerolog.Nop())
	d.Start()
	t.Cleanup(d.Stop)
	return NewService(db, m, d, zerolog.Nop()), db
}

func validInput() ReportInput {
	return ReportInput{
		ReporterName:  "Sam Ortiz",
		ReporterPhone: "+15551234567",
		Address:       "12 Harbor Rd",
		Latitude:      47.6,
		Longitude:     -122.3,
		Description:   "kitchen fire",
		EmergencyType: "fire",
		Priority:      "high",
	}
}

func TestCreateReportPlansDispatch(t *testing.T) {
	s, db := testService(t)
	ctx := context.Background()

	r, task, err := s.CreateReport(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(r.ReportNumber, "ER-") {
		t.Errorf("report number = %q, want ER- prefix", r.ReportNumber)
	}
	if r.Status != protocol.ReportDispatched {
		t.Errorf("status = %q, want DISPATCHED", r.Status)
	}
	if r.EmergencyType != protocol.EmergencyFire || r.Priority != protocol.PriorityHigh {
		t.Errorf("normalized = %s/%s", r.EmergencyType, r.Priority)
	}
	if task == nil {
		t.Fatal("no task")
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := task.Wait(wctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	trs, _ := db.ListEntityTransitions(ctx, protocol.KindReport, r.ID)
	if len(trs) != 2 || trs[0].FromStatus != "" || trs[0].ToStatus != protocol.ReportReceived {
		t.Errorf("report transitions = %+v, want creation then DISPATCHED", trs)
	}
}

func TestCreateReportUnsupportedType(t *testing.T) {
	s, db := testService(t)
	in := validInput()
	in.EmergencyType = "FLOOD"

	r, task, err := s.CreateReport(context.Background(), in)
	if !errors.Is(err, dispatch.ErrUnsupportedEmergencyType) {
		t.Fatalf("err = %v, want ErrUnsupportedEmergencyType", err)
	}
	if r == nil || task != nil {
		t.Fatalf("report = %v task = %v, want report and no task", r, task)
	}
	got, _ := db.GetReport(context.Background(), r.ID)
	if got.Status != protocol.ReportReceived {
		t.Errorf("status = %q, want RECEIVED", got.Status)
	}
}

func TestCreateReportValidation(t *testing.T) {
	s, _ := testService(t)
	cases := []struct {
		name string
		mod  func(*ReportInput)
	}{
		{"missing name", func(in *ReportInput) { in.ReporterName = "" }},
		{"missing address", func(in *ReportInput) { in.Address = "" }},
		{"bad latitude", func(in *ReportInput) { in.Latitude = 91 }},
		{"bad longitude", func(in *ReportInput) { in.Longitude = -181 }},
		{"bad priority", func(in *ReportInput) { in.Priority = "URGENT" }},
		{"missing type", func(in *ReportInput) { in.EmergencyType = " " }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mod(&in)
			_, _, err := s.CreateReport(context.Background(), in)
			if !errors.Is(err, ErrInvalidReport) {
				t.Errorf("err = %v, want ErrInvalidReport", err)
			}
		})
	}
}

func TestFromMessage(t *testing.T) {
	in := FromMessage(protocol.ReportCreate{ReporterName: "A", Address: "B", EmergencyType: "HAZMAT", Priority: "LOW", Latitude: 1, Longitude: 2})
	if in.ReporterName != "A" || in.EmergencyType != "HAZMAT" || in.Longitude != 2 {
		t.Errorf("input = %+v", in)
	}
}
