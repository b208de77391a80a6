package protocol

import (
	"encoding/json"

	"github.com/rs/zerolog"
)

// FilterFunc returns true if the message should be processed.
type FilterFunc func(hdr *RawHeader) bool

// MessageHandler defines callbacks for inbound message types.
// Embed NoOpHandler and override only the methods you need.
type MessageHandler interface {
	HandleReportCreate(env *Envelope, p *ReportCreate)
	HandleTransition(env *Envelope, p *TransitionNotice)
}

// Ingestor performs two-phase decode and dispatches to a MessageHandler.
type Ingestor struct {
	handler MessageHandler
	filter  FilterFunc
	log     zerolog.Logger
}

// NewIngestor creates an ingestor with the given handler and filter.
func NewIngestor(handler MessageHandler, filter FilterFunc, logger zerolog.Logger) *Ingestor {
	return &Ingestor{
		handler: handler,
		filter:  filter,
		log:     logger.With().Str("component", "ingestor").Logger(),
	}
}

// HandleRaw is the entry point for raw message bytes from the messaging layer.
func (ing *Ingestor) HandleRaw(data []byte) {
	var hdr RawHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		ing.log.Warn().Err(err).Msg("header decode")
		return
	}

	if IsExpiredHeader(&hdr) {
		ing.log.Info().Str("id", hdr.ID).Str("type", hdr.Type).Msg("dropping expired message")
		return
	}

	if ing.filter != nil && !ing.filter(&hdr) {
		return
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		ing.log.Warn().Err(err).Msg("envelope decode")
		return
	}

	switch env.Type {
	case TypeReportCreate:
		decodeAndCall(ing, ing.handler.HandleReportCreate, &env)
	case TypeTransition:
		decodeAndCall(ing, ing.handler.HandleTransition, &env)
	default:
		ing.log.Debug().Str("type", env.Type).Msg("unhandled message type")
	}
}

func decodeAndCall[T any](ing *Ingestor, fn func(*Envelope, *T), env *Envelope) {
	var p T
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		ing.log.Warn().Err(err).Str("type", env.Type).Msg("payload decode")
		return
	}
	fn(env, &p)
}
