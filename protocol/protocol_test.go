package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	src := Address{Role: RoleIntake, Node: "console-3", Station: "st-1"}
	dst := Address{Role: RoleCore}

	env, err := NewEnvelope(TypeReportCreate, src, dst, &ReportCreate{
		RequestID:     "req-1",
		EmergencyType: EmergencyFire,
		Priority:      PriorityHigh,
		Latitude:      35.68,
		Longitude:     139.76,
	})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.Version != Version {
		t.Errorf("version = %d, want %d", env.Version, Version)
	}
	if env.Src != src {
		t.Errorf("src = %+v, want %+v", env.Src, src)
	}
	if env.ID == "" {
		t.Error("ID should not be empty")
	}

	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var decoded Envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	var req ReportCreate
	if err := decoded.DecodePayload(&req); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if req.EmergencyType != EmergencyFire {
		t.Errorf("emergency_type = %q, want %q", req.EmergencyType, EmergencyFire)
	}
	if req.Latitude != 35.68 {
		t.Errorf("latitude = %f, want 35.68", req.Latitude)
	}
}

func TestNewReply(t *testing.T) {
	reply, err := NewReply(TypeReportAccepted,
		Address{Role: RoleCore},
		Address{Role: RoleIntake, Node: "console-3"},
		"orig-msg-id",
		&ReportAccepted{RequestID: "req-1", ReportID: 7},
	)
	if err != nil {
		t.Fatalf("NewReply: %v", err)
	}
	if reply.CorID != "orig-msg-id" {
		t.Errorf("cor = %q, want %q", reply.CorID, "orig-msg-id")
	}
}

func TestExpiry(t *testing.T) {
	env := &Envelope{ExpiresAt: time.Now().UTC().Add(-1 * time.Minute)}
	if !IsExpired(env) {
		t.Error("expected expired envelope to be detected")
	}
	env.ExpiresAt = time.Now().UTC().Add(10 * time.Minute)
	if IsExpired(env) {
		t.Error("expected future-expiry envelope to not be expired")
	}
	env.ExpiresAt = time.Time{}
	if IsExpired(env) {
		t.Error("expected zero-expiry envelope to not be expired")
	}
}

func TestDefaultTTLFor(t *testing.T) {
	if ttl := DefaultTTLFor(TypeTransition); ttl != 24*time.Hour {
		t.Errorf("transition TTL = %v, want 24h", ttl)
	}
	if ttl := DefaultTTLFor("unknown.type"); ttl != FallbackTTL {
		t.Errorf("unknown TTL = %v, want %v", ttl, FallbackTTL)
	}
}

func TestParseKind(t *testing.T) {
	cases := map[string]EntityKind{
		"report":      KindReport,
		"dispatches":  KindDispatch,
		"assignment":  KindAssignment,
		"units":       KindUnit,
		"escalations": KindEscalation,
	}
	for in, want := range cases {
		got, ok := ParseKind(in)
		if !ok || got != want {
			t.Errorf("ParseKind(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
	if _, ok := ParseKind("personnel"); ok {
		t.Error("expected personnel to be rejected")
	}
}

func TestIngestorDispatch(t *testing.T) {
	handler := &testHandler{}
	ingestor := NewIngestor(handler, nil, zerolog.Nop())

	env, _ := NewEnvelope(TypeReportCreate,
		Address{Role: RoleIntake, Node: "console-1"},
		Address{Role: RoleCore},
		&ReportCreate{RequestID: "req-9", EmergencyType: EmergencyMedical},
	)
	data, _ := env.Encode()
	ingestor.HandleRaw(data)

	if !handler.createCalled {
		t.Fatal("expected HandleReportCreate to be called")
	}
	if handler.createPayload.RequestID != "req-9" {
		t.Errorf("request_id = %q, want %q", handler.createPayload.RequestID, "req-9")
	}
}

func TestIngestorFilter(t *testing.T) {
	handler := &testHandler{}
	ingestor := NewIngestor(handler, func(_ *RawHeader) bool { return false }, zerolog.Nop())

	env, _ := NewEnvelope(TypeReportCreate, Address{Role: RoleIntake}, Address{Role: RoleCore}, &ReportCreate{})
	data, _ := env.Encode()
	ingestor.HandleRaw(data)

	if handler.createCalled {
		t.Error("expected handler to NOT be called when filter rejects")
	}
}

func TestIngestorDropsExpired(t *testing.T) {
	handler := &testHandler{}
	ingestor := NewIngestor(handler, nil, zerolog.Nop())

	env, _ := NewEnvelope(TypeReportCreate, Address{Role: RoleIntake}, Address{Role: RoleCore}, &ReportCreate{})
	env.ExpiresAt = time.Now().UTC().Add(-1 * time.Minute)
	data, _ := env.Encode()
	ingestor.HandleRaw(data)

	if handler.createCalled {
		t.Error("expected handler to NOT be called for expired message")
	}
}

func TestTransitionNoticeWireKeys(t *testing.T) {
	data, err := json.Marshal(TransitionNotice{
		TransitionID: "t-1",
		EntityKind:   KindDispatch,
		EntityID:     4,
		FromStatus:   DispatchDispatched,
		ToStatus:     DispatchOnScene,
		OccurredAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, k := range []string{"entityKind", "entityId", "fromStatus", "toStatus", "occurredAt"} {
		if _, ok := m[k]; !ok {
			t.Errorf("expected key %q in notice", k)
		}
	}
}

type testHandler struct {
	NoOpHandler
	createCalled  bool
	createPayload ReportCreate
}

func (h *testHandler) HandleReportCreate(env *Envelope, p *ReportCreate) {
	h.createCalled = true
	h.createPayload = *p
}

func TestNewTransitionEnvelope(t *testing.T) {
	n := TransitionNotice{
		TransitionID: "tr-42",
		EntityKind:   KindUnit,
		EntityID:     7,
		FromStatus:   UnitAvailable,
		ToStatus:     UnitDispatched,
		Version:      2,
		OccurredAt:   time.Now().UTC(),
	}
	env, err := NewTransitionEnvelope(Address{Role: RoleCore, Node: "core-1"}, n)
	if err != nil {
		t.Fatalf("NewTransitionEnvelope: %v", err)
	}
	if env.Type != TypeTransition {
		t.Errorf("type = %q, want %q", env.Type, TypeTransition)
	}
	if env.ID != "tr-42" {
		t.Errorf("id = %q, want transition id", env.ID)
	}
	if !env.Dst.IsBroadcast() {
		t.Errorf("dst = %+v, want broadcast", env.Dst)
	}
	if !env.Dst.Targets(RoleCore) || !env.Dst.Targets(RoleIntake) {
		t.Error("broadcast should target every role")
	}
	if n.Key() != "unit:7" {
		t.Errorf("key = %q, want unit:7", n.Key())
	}

	var got TransitionNotice
	if err := env.DecodePayload(&got); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if got.ToStatus != UnitDispatched || got.EntityID != 7 {
		t.Errorf("notice = %+v", got)
	}

	anon, err := NewTransitionEnvelope(Address{Role: RoleCore}, TransitionNotice{EntityKind: KindReport, EntityID: 1})
	if err != nil {
		t.Fatalf("NewTransitionEnvelope: %v", err)
	}
	if anon.ID == "" {
		t.Error("expected a generated id without a transition id")
	}
}

func TestAddressTargets(t *testing.T) {
	if (Address{Role: RoleIntake, Node: "console-1"}).Targets(RoleCore) {
		t.Error("intake address should not target core")
	}
	if !(Address{Role: RoleCore}).Targets(RoleCore) {
		t.Error("core address should target core")
	}
}
