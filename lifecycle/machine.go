package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"firecore/protocol"
	"firecore/store"
)

// Emitter receives every committed transition, after commit.
type Emitter interface {
	EmitTransition(t *store.Transition)
}

// State is an entity's lifecycle position after an Apply.
type State struct {
	Kind    protocol.EntityKind `json:"kind"`
	ID      int64               `json:"id"`
	Status  string              `json:"status"`
	Version int                 `json:"version"`
	// Noop is set when the target was already current and nothing was written.
	Noop bool `json:"noop"`
}

// Request is the long form of Apply.
type Request struct {
	Kind    protocol.EntityKind
	ID      int64
	Version int
	Target  string
	At      *time.Time
	// RequireFrom rejects the move unless the current status equals it.
	RequireFrom string
	// Extra columns written in the same UPDATE as the status.
	Extra []store.Assign
	// Guard runs inside the transaction after the status checks. A non-nil
	// error aborts the move and is returned unchanged.
	Guard func(tx *store.Tx) error
}

type Config struct {
	TransitionsTopic string
	NodeID           string
	RetryLimit       int
	RetryDelay       time.Duration
}

// Machine is the single authority for status changes. Every write is
// conditioned on the caller's version and produces one transition row, one
// outbox row and one emitted event.
type Machine struct {
	db      *store.DB
	emitter Emitter
	cfg     Config
	log     zerolog.Logger
	now     func() time.Time
}

func New(db *store.DB, emitter Emitter, cfg Config, logger zerolog.Logger) *Machine {
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 5
	}
	return &Machine{
		db:      db,
		emitter: emitter,
		cfg:     cfg,
		log:     logger.With().Str("component", "lifecycle").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Get reads the current lifecycle position of an entity.
func (m *Machine) Get(ctx context.Context, kind protocol.EntityKind, id int64) (State, error) {
	if _, ok := TableFor(kind); !ok {
		return State{}, ErrUnknownKind
	}
	row, err := m.db.LoadStatus(ctx, kind, id)
	if err != nil {
		return State{}, err
	}
	return State{Kind: kind, ID: id, Status: row.Status, Version: row.Version}, nil
}

// Apply moves entity (kind, id) from currentVersion to target.
func (m *Machine) Apply(ctx context.Context, kind protocol.EntityKind, id int64, currentVersion int, target string, at *time.Time) (State, error) {
	return m.ApplyRequest(ctx, Request{Kind: kind, ID: id, Version: currentVersion, Target: target, At: at})
}

func (m *Machine) ApplyRequest(ctx context.Context, req Request) (State, error) {
	tbl, ok := TableFor(req.Kind)
	if !ok {
		return State{}, fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
	}
	at := m.now()
	if req.At != nil {
		at = req.At.UTC()
	}

	var state State
	var committed *store.Transition
	err := m.db.WithTx(ctx, func(tx *store.Tx) error {
		cur, err := tx.LoadStatus(ctx, req.Kind, req.ID)
		if err != nil {
			return err
		}
		if cur.Version != req.Version {
			return fmt.Errorf("%w: %s %d at version %d, caller had %d", ErrConcurrentModification, req.Kind, req.ID, cur.Version, req.Version)
		}
		if req.RequireFrom != "" && cur.Status != req.RequireFrom {
			return &InvalidTransitionError{Kind: req.Kind, ID: req.ID, From: cur.Status, To: req.Target,
				Reason: "requires " + req.RequireFrom}
		}
		if req.Guard != nil {
			if err := req.Guard(tx); err != nil {
				return err
			}
		}
		if cur.Status == req.Target {
			state = State{Kind: req.Kind, ID: req.ID, Status: cur.Status, Version: cur.Version, Noop: true}
			return nil
		}
		if !tbl.Allowed(cur.Status, req.Target) {
			return &InvalidTransitionError{Kind: req.Kind, ID: req.ID, From: cur.Status, To: req.Target,
				Reason: rejectReason(tbl, cur.Status, req.Target)}
		}

		extra := append([]store.Assign(nil), req.Extra...)
		for _, col := range tbl.Clear[req.Target] {
			extra = append(extra, store.Assign{Column: col, Value: nil})
		}
		newVersion, err := tx.UpdateStatus(ctx, req.Kind, req.ID, cur.Version, req.Target, at, tbl.Stamps[req.Target], extra)
		if errors.Is(err, store.ErrVersionConflict) {
			return fmt.Errorf("%w: %s %d", ErrConcurrentModification, req.Kind, req.ID)
		}
		if err != nil {
			return err
		}

		t := &store.Transition{
			TransitionID: uuid.NewString(),
			EntityKind:   req.Kind,
			EntityID:     req.ID,
			FromStatus:   cur.Status,
			ToStatus:     req.Target,
			Version:      newVersion,
			OccurredAt:   at,
		}
		if err := m.record(ctx, tx, t); err != nil {
			return err
		}
		committed = t
		state = State{Kind: req.Kind, ID: req.ID, Status: req.Target, Version: newVersion}
		return nil
	})
	if err != nil {
		return State{}, err
	}
	if committed != nil {
		m.log.Debug().Str("kind", string(req.Kind)).Int64("id", req.ID).
			Str("from", committed.FromStatus).Str("to", committed.ToStatus).Int("version", committed.Version).
			Msg("transition")
		m.emit(committed)
	}
	return state, nil
}

// ApplyWithRetry applies target starting at version, re-reading and
// reapplying on ConcurrentModification. A version <= 0 reads the current
// version first. A retry that finds target already current is a no-op.
func (m *Machine) ApplyWithRetry(ctx context.Context, kind protocol.EntityKind, id int64, version int, target string, at *time.Time, extra ...store.Assign) (State, error) {
	return m.ApplyRequestWithRetry(ctx, Request{Kind: kind, ID: id, Version: version, Target: target, At: at, Extra: extra})
}

// ApplyRequestWithRetry is ApplyWithRetry for a full Request. req.Version is
// refreshed on every retry.
func (m *Machine) ApplyRequestWithRetry(ctx context.Context, req Request) (State, error) {
	kind, id, version := req.Kind, req.ID, req.Version
	var lastErr error
	delay := m.cfg.RetryDelay
	for attempt := 0; attempt < m.cfg.RetryLimit; attempt++ {
		if attempt > 0 || version <= 0 {
			cur, err := m.Get(ctx, kind, id)
			if err != nil {
				return State{}, err
			}
			version = cur.Version
		}
		req.Version = version
		st, err := m.ApplyRequest(ctx, req)
		if err == nil || !errors.Is(err, ErrConcurrentModification) {
			return st, err
		}
		lastErr = err
		if delay > 0 {
			select {
			case <-ctx.Done():
				return State{}, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return State{}, fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, m.cfg.RetryLimit, lastErr)
}

// SetStatus is the operator entry point: read the current version and apply
// with bounded retry.
func (m *Machine) SetStatus(ctx context.Context, kind protocol.EntityKind, id int64, target string) (State, error) {
	tbl, ok := TableFor(kind)
	if !ok {
		return State{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if !tbl.Known(target) {
		return State{}, &InvalidTransitionError{Kind: kind, ID: id, To: target, Reason: "unknown status"}
	}
	return m.ApplyWithRetry(ctx, kind, id, 0, target, nil)
}

// Create inserts a new entity and records its creation transition ("" ->
// initial status) in the same transaction. insert returns the new id and
// the status it was stored with.
func (m *Machine) Create(ctx context.Context, kind protocol.EntityKind, insert func(tx *store.Tx) (int64, string, error)) (*store.Transition, error) {
	if _, ok := TableFor(kind); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	var t *store.Transition
	err := m.db.WithTx(ctx, func(tx *store.Tx) error {
		id, status, err := insert(tx)
		if err != nil {
			return err
		}
		t = &store.Transition{
			TransitionID: uuid.NewString(),
			EntityKind:   kind,
			EntityID:     id,
			ToStatus:     status,
			Version:      1,
			OccurredAt:   m.now(),
		}
		return m.record(ctx, tx, t)
	})
	if err != nil {
		return nil, err
	}
	m.emit(t)
	return t, nil
}

// record writes the transition log row and, when fan-out is configured, the
// outbox row carrying the notice.
func (m *Machine) record(ctx context.Context, tx *store.Tx, t *store.Transition) error {
	if err := tx.InsertTransition(ctx, t); err != nil {
		return err
	}
	if m.cfg.TransitionsTopic == "" {
		return nil
	}
	n := t.Notice()
	env, err := protocol.NewTransitionEnvelope(protocol.Address{Role: protocol.RoleCore, Node: m.cfg.NodeID}, n)
	if err != nil {
		return fmt.Errorf("build transition notice: %w", err)
	}
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode transition notice: %w", err)
	}
	return tx.EnqueueOutbox(ctx, m.cfg.TransitionsTopic, n.Key(), protocol.TypeTransition, data)
}

func (m *Machine) emit(t *store.Transition) {
	if m.emitter != nil {
		m.emitter.EmitTransition(t)
	}
}

func rejectReason(tbl *Table, from, to string) string {
	if tbl.IsTerminal(from) {
		return from + " is terminal"
	}
	if !tbl.Known(to) {
		return "unknown status " + to
	}
	allowed := tbl.Next[from]
	if len(allowed) == 0 {
		return "no transitions from " + from
	}
	return "allowed from " + from + ": " + strings.Join(allowed, ", ")
}
