package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"firecore/dispatch"
	"firecore/intake"
	"firecore/protocol"
	"firecore/store"
)

// Subscriber is the inbound half of Client.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handler func(payload []byte)) error
}

// ReportCreator is the intake entry point inbound reports are routed to.
type ReportCreator interface {
	CreateReport(ctx context.Context, in intake.ReportInput) (*store.Report, *dispatch.Task, error)
}

// Consumer subscribes to the intake topic and routes messages through a
// protocol.Ingestor.
type Consumer struct {
	sub      Subscriber
	topic    string
	ingestor *protocol.Ingestor
}

func NewConsumer(sub Subscriber, topic string, handler protocol.MessageHandler, logger zerolog.Logger) *Consumer {
	// only messages addressed to the core role
	filter := func(hdr *protocol.RawHeader) bool {
		return hdr.Dst.Targets(protocol.RoleCore)
	}
	return &Consumer{
		sub:      sub,
		topic:    topic,
		ingestor: protocol.NewIngestor(handler, filter, logger),
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	return c.sub.Subscribe(ctx, c.topic, c.ingestor.HandleRaw)
}

// CoreHandler turns report.create messages into reports and queues the
// reply on the outbox.
type CoreHandler struct {
	protocol.NoOpHandler
	intake       ReportCreator
	db           *store.DB
	repliesTopic string
	nodeID       string
	timeout      time.Duration
	log          zerolog.Logger
}

func NewCoreHandler(creator ReportCreator, db *store.DB, repliesTopic, nodeID string, logger zerolog.Logger) *CoreHandler {
	return &CoreHandler{
		intake:       creator,
		db:           db,
		repliesTopic: repliesTopic,
		nodeID:       nodeID,
		timeout:      30 * time.Second,
		log:          logger.With().Str("component", "core_handler").Logger(),
	}
}

func (h *CoreHandler) HandleReportCreate(env *protocol.Envelope, p *protocol.ReportCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	r, _, err := h.intake.CreateReport(ctx, intake.FromMessage(*p))
	if err != nil {
		h.log.Warn().Err(err).Str("request_id", p.RequestID).Str("src", env.Src.Node).Msg("report rejected")
		rej := protocol.ReportRejected{RequestID: p.RequestID, Reason: err.Error()}
		if r != nil {
			rej.ReportNumber = r.ReportNumber
		}
		h.reply(ctx, env, protocol.TypeReportRejected, rej)
		return
	}

	acc := protocol.ReportAccepted{RequestID: p.RequestID, ReportID: r.ID, ReportNumber: r.ReportNumber}
	if d, err := h.db.GetActiveDispatchForReport(ctx, r.ID); err == nil {
		acc.DispatchID = d.ID
		acc.DispatchNumber = d.DispatchNumber
	} else if !errors.Is(err, store.ErrNotFound) {
		h.log.Error().Err(err).Int64("report_id", r.ID).Msg("load dispatch for reply")
	}
	h.reply(ctx, env, protocol.TypeReportAccepted, acc)
}

func (h *CoreHandler) reply(ctx context.Context, env *protocol.Envelope, msgType string, payload any) {
	if h.repliesTopic == "" {
		return
	}
	out, err := protocol.NewReply(msgType, protocol.Address{Role: protocol.RoleCore, Node: h.nodeID}, env.Src, env.ID, payload)
	if err != nil {
		h.log.Error().Err(err).Msg("build reply")
		return
	}
	data, err := out.Encode()
	if err != nil {
		h.log.Error().Err(err).Msg("encode reply")
		return
	}
	if err := h.db.EnqueueOutbox(ctx, h.repliesTopic, env.Src.Node, msgType, data); err != nil {
		h.log.Error().Err(err).Msg("enqueue reply")
	}
}
