package engine

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"firecore/config"
	"firecore/dispatch"
	"firecore/intake"
	"firecore/lifecycle"
	"firecore/messaging"
	"firecore/stats"
	"firecore/store"
	"firecore/unitstate"
)

type Config struct {
	AppConfig *config.Config
	DB        *store.DB
	// UnitCache is optional; nil keeps the unit board on SQL.
	UnitCache unitstate.Cache
	// MsgClient is optional; nil disables outbox draining and inbound intake.
	MsgClient  *messaging.Client
	Registerer prometheus.Registerer
	Logger     zerolog.Logger
}

type Engine struct {
	cfg        *config.Config
	db         *store.DB
	msgClient  *messaging.Client
	machine    *lifecycle.Machine
	dispatcher *dispatch.Dispatcher
	intake     *intake.Service
	stats      *stats.Aggregator
	units      *unitstate.Manager
	drainer    *messaging.OutboxDrainer
	Events     *EventBus
	log        zerolog.Logger

	msgConnected bool
}

func New(c Config) *Engine {
	cfg := c.AppConfig
	log := c.Logger.With().Str("component", "engine").Logger()
	bus := NewEventBus(c.Logger)

	machine := lifecycle.New(c.DB, &transitionEmitter{bus: bus}, lifecycle.Config{
		TransitionsTopic: transitionsTopic(cfg),
		NodeID:           cfg.Messaging.NodeID,
		RetryLimit:       cfg.Dispatch.RetryLimit,
		RetryDelay:       cfg.Dispatch.RetryDelay,
	}, c.Logger)

	disp := dispatch.NewDispatcher(c.DB, machine, nil, nil, &dispatchEmitter{bus: bus}, dispatch.Config{
		UnitCap:   cfg.Dispatch.UnitCap,
		ETAOffset: cfg.Dispatch.ETAOffset,
		Workers:   cfg.Dispatch.Workers,
		QueueSize: cfg.Dispatch.QueueSize,
	}, c.Logger)

	e := &Engine{
		cfg:        cfg,
		db:         c.DB,
		msgClient:  c.MsgClient,
		machine:    machine,
		dispatcher: disp,
		intake:     intake.NewService(c.DB, machine, disp, c.Logger),
		stats:      stats.NewAggregator(cfg.Stats.DedupeWindow, c.Registerer, c.Logger),
		units:      unitstate.NewManager(c.DB, machine, c.UnitCache, c.Logger),
		Events:     bus,
		log:        log,
	}
	if c.MsgClient != nil {
		e.drainer = messaging.NewOutboxDrainer(c.DB, c.MsgClient, cfg.Messaging.OutboxDrainInterval, cfg.Messaging.OutboxMaxRetries, c.Logger)
	}
	return e
}

// transitionsTopic is empty, so no outbox rows are written, when nothing
// would drain them.
func transitionsTopic(cfg *config.Config) string {
	if cfg.Messaging.Backend == "" || cfg.Messaging.Backend == "none" {
		return ""
	}
	return cfg.Messaging.TransitionsTopic
}

// Start restores derived state from SQL, wires event handlers and starts
// the assignment workers.
func (e *Engine) Start(ctx context.Context) error {
	e.wireEventHandlers()

	if _, err := e.stats.Rebuild(ctx, e.db); err != nil {
		return err
	}
	if err := e.units.SyncFromSQL(ctx); err != nil {
		e.log.Warn().Err(err).Msg("unit cache sync failed, reading from SQL")
	}

	e.dispatcher.Start()
	if _, err := e.dispatcher.ResumePending(ctx); err != nil {
		e.log.Error().Err(err).Msg("resume pending dispatches")
	}

	if e.msgClient != nil && e.cfg.Messaging.IntakeTopic != "" {
		handler := messaging.NewCoreHandler(e.intake, e.db, e.cfg.Messaging.RepliesTopic, e.cfg.Messaging.NodeID, e.log)
		consumer := messaging.NewConsumer(e.msgClient, e.cfg.Messaging.IntakeTopic, handler, e.log)
		if err := consumer.Start(ctx); err != nil {
			e.log.Error().Err(err).Str("topic", e.cfg.Messaging.IntakeTopic).Msg("intake subscribe")
		}
	}

	e.log.Info().Msg("started")
	return nil
}

// Run drives the background loops until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if e.drainer != nil {
		g.Go(func() error { return e.drainer.Run(ctx) })
	}
	g.Go(func() error {
		e.connectionHealthLoop(ctx)
		return nil
	})
	return g.Wait()
}

func (e *Engine) Stop() {
	e.dispatcher.Stop()
	e.log.Info().Msg("stopped")
}

// Accessors
func (e *Engine) DB() *store.DB                    { return e.db }
func (e *Engine) AppConfig() *config.Config        { return e.cfg }
func (e *Engine) Machine() *lifecycle.Machine      { return e.machine }
func (e *Engine) Dispatcher() *dispatch.Dispatcher { return e.dispatcher }
func (e *Engine) Intake() *intake.Service          { return e.intake }
func (e *Engine) Stats() *stats.Aggregator         { return e.stats }
func (e *Engine) Units() *unitstate.Manager        { return e.units }
func (e *Engine) MsgClient() *messaging.Client     { return e.msgClient }

func (e *Engine) checkConnectionStatus() {
	if e.msgClient == nil {
		return
	}
	if e.msgClient.IsConnected() {
		if !e.msgConnected {
			e.msgConnected = true
			e.Events.Emit(Event{Type: EventMessagingConnected, Payload: ConnectionEvent{Detail: "messaging connected"}})
		}
	} else if e.msgConnected {
		e.msgConnected = false
		e.Events.Emit(Event{Type: EventMessagingDisconnected, Payload: ConnectionEvent{Detail: "messaging disconnected"}})
	}
}

func (e *Engine) connectionHealthLoop(ctx context.Context) {
	e.checkConnectionStatus()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.checkConnectionStatus()
		}
	}
}
