package www

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"firecore/engine"
)

type SSEEvent struct {
	Event string
	Data  string
}

// EventHub fans engine events out to connected SSE clients. Slow clients
// drop events rather than block the engine.
type EventHub struct {
	log       zerolog.Logger
	mu        sync.RWMutex
	clients   map[chan SSEEvent]struct{}
	broadcast chan SSEEvent
	stopChan  chan struct{}
	stopOnce  sync.Once
	keepalive time.Duration
}

func NewEventHub(logger zerolog.Logger) *EventHub {
	return &EventHub{
		log:       logger,
		clients:   make(map[chan SSEEvent]struct{}),
		broadcast: make(chan SSEEvent, 256),
		stopChan:  make(chan struct{}),
		keepalive: 30 * time.Second,
	}
}

func (h *EventHub) Start() {
	go h.run()
}

func (h *EventHub) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
}

func (h *EventHub) run() {
	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-h.stopChan:
			return
		case evt := <-h.broadcast:
			h.fanout(evt)
		case <-keepalive.C:
			h.fanout(SSEEvent{Event: "keepalive", Data: "ping"})
		}
	}
}

func (h *EventHub) fanout(evt SSEEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Broadcast queues v, JSON-encoded, for every client.
func (h *EventHub) Broadcast(event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("sse encode")
		return
	}
	select {
	case h.broadcast <- SSEEvent{Event: event, Data: string(data)}:
	default:
		h.log.Warn().Str("event", event).Msg("sse broadcast queue full")
	}
}

func (h *EventHub) AddClient() chan SSEEvent {
	ch := make(chan SSEEvent, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *EventHub) RemoveClient(ch chan SSEEvent) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SetupEngineListeners wires engine events to SSE broadcasts.
func (h *EventHub) SetupEngineListeners(eng *engine.Engine) {
	eng.Events.SubscribeTypes(func(evt engine.Event) {
		h.Broadcast("transition", evt.Payload.(engine.TransitionEvent).Transition.Notice())
	}, engine.EventTransition)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		d := evt.Payload.(engine.DispatchPlannedEvent).Dispatch
		h.Broadcast("dispatch-planned", map[string]any{
			"dispatchId":     d.ID,
			"dispatchNumber": d.DispatchNumber,
			"reportId":       d.ReportID,
			"dispatchType":   d.DispatchType,
		})
	}, engine.EventDispatchPlanned)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		o := evt.Payload.(engine.AssignmentOutcomeEvent).Outcome
		h.Broadcast("dispatch-outcome", map[string]any{
			"dispatchId": o.DispatchID,
			"kind":       o.Kind,
			"reason":     o.Reason,
			"units":      len(o.Assignments),
			"error":      o.Error,
		})
	}, engine.EventAssignmentOutcome)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		h.Broadcast("unfulfilled", map[string]int64{"dispatchId": evt.Payload.(engine.UnfulfilledEvent).DispatchID})
	}, engine.EventUnfulfilled)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		ev := evt.Payload.(engine.UnitArrivedEvent)
		h.Broadcast("unit-arrived", map[string]any{"dispatchId": ev.DispatchID, "unitId": ev.UnitID, "responseMinutes": ev.ResponseMinutes})
	}, engine.EventUnitArrived)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		h.Broadcast("system-status", map[string]string{"messaging": "connected"})
	}, engine.EventMessagingConnected)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		h.Broadcast("system-status", map[string]string{"messaging": "disconnected"})
	}, engine.EventMessagingDisconnected)
}

// SSEHandler serves the SSE endpoint.
func (h *EventHub) SSEHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := h.AddClient()
	defer h.RemoveClient(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.stopChan:
			return
		case evt := <-ch:
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Event, evt.Data); err != nil {
				h.log.Debug().Err(err).Msg("sse write")
				return
			}
			flusher.Flush()
		}
	}
}
