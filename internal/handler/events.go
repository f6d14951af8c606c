package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/gatepass/access-server/internal/errors"
	"github.com/gatepass/access-server/internal/middleware"
	"github.com/gatepass/access-server/internal/model"
	"github.com/gatepass/access-server/internal/sse"
)

const recentEntriesOnConnect = 20

// EventSource is the subscription side of the SSE broker.
type EventSource interface {
	Subscribe(organizationID string) *sse.Client
	Unsubscribe(client *sse.Client)
}

type AccessLogLister interface {
	ListByOrganization(ctx context.Context, organizationID string, limit, offset int) ([]model.AccessLog, int, error)
}

// EventsHandler streams live access decisions to guard consoles.
type EventsHandler struct {
	broker    EventSource
	logs      AccessLogLister
	heartbeat time.Duration
}

func NewEventsHandler(broker EventSource, logs AccessLogLister) *EventsHandler {
	return &EventsHandler{
		broker:    broker,
		logs:      logs,
		heartbeat: sse.HeartbeatInterval,
	}
}

// GET /v1/access/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	if actor == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}
	if !actor.CanAuthorizeAccess() {
		writeError(w, apperrors.Forbidden("Only guards and admins can follow access events"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.Internal("Streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(actor.OrganizationID)
	defer h.broker.Unsubscribe(client)

	log.Info().
		Str("organizationId", actor.OrganizationID).
		Str("actorId", actor.ID).
		Msg("sse connection established")

	ctx := r.Context()

	if err := h.sendEvent(w, flusher, "connected", map[string]any{
		"organization_id": actor.OrganizationID,
		"actor_id":        actor.ID,
	}); err != nil {
		return
	}

	if err := h.sendRecentEntries(ctx, w, flusher, actor.OrganizationID); err != nil {
		log.Error().Err(err).Msg("failed to send recent access logs")
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("organizationId", actor.OrganizationID).
				Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().
				Str("organizationId", actor.OrganizationID).
				Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("organizationId", actor.OrganizationID).
					Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

// sendRecentEntries lets a console that just (re)connected fill its list
// without a separate request.
func (h *EventsHandler) sendRecentEntries(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, organizationID string) error {
	if h.logs == nil {
		return nil
	}

	entries, _, err := h.logs.ListByOrganization(ctx, organizationID, recentEntriesOnConnect, 0)
	if err != nil {
		return err
	}
	return h.sendEvent(w, flusher, "recent", formatAccessLogs(entries))
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
