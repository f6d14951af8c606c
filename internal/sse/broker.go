package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/gatepass/access-server/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
	clientBufferSize  = 100
)

// Event types pushed to guard consoles.
const (
	EventAccessGranted = "access.granted"
	EventAccessDenied  = "access.denied"
	EventManualEntry   = "access.manual_entry"
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	OrganizationID string
	Events         chan Event
	Done           chan struct{}
}

// Broker fans live access decisions out to every SSE client of an
// organization. Redis pub/sub carries events between server instances.
type Broker struct {
	redis   *redisclient.Client
	clients map[string]map[*Client]bool // organizationID -> set of clients
	subs    map[string]context.CancelFunc
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Client]bool),
		subs:    make(map[string]context.CancelFunc),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(organizationID string) *Client {
	client := &Client{
		OrganizationID: organizationID,
		Events:         make(chan Event, clientBufferSize),
		Done:           make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[organizationID] == nil {
		b.clients[organizationID] = make(map[*Client]bool)
		subCtx, subCancel := context.WithCancel(b.ctx)
		b.subs[organizationID] = subCancel
		go b.subscribeToRedis(subCtx, organizationID)
	}
	b.clients[organizationID][client] = true
	clientCount := len(b.clients[organizationID])
	b.mu.Unlock()

	log.Info().
		Str("organizationId", organizationID).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	clients, ok := b.clients[client.OrganizationID]
	if !ok || !clients[client] {
		return
	}

	delete(clients, client)
	close(client.Done)

	if len(clients) == 0 {
		delete(b.clients, client.OrganizationID)
		if cancel, ok := b.subs[client.OrganizationID]; ok {
			cancel()
			delete(b.subs, client.OrganizationID)
		}
	}

	log.Info().
		Str("organizationId", client.OrganizationID).
		Int("clientCount", len(clients)).
		Msg("sse client unsubscribed")
}

// Publish marshals payload and sends it to every instance subscribed to the
// organization's channel.
func (b *Broker) Publish(ctx context.Context, organizationID, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	message, err := json.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		return err
	}

	channel := redisclient.AccessChannel(organizationID)
	return b.redis.Publish(ctx, channel, message).Err()
}

func (b *Broker) subscribeToRedis(ctx context.Context, organizationID string) {
	channel := redisclient.AccessChannel(organizationID)
	pubsub := b.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("organizationId", organizationID).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(organizationID, event)
		}
	}
}

func (b *Broker) broadcast(organizationID string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for client := range b.clients[organizationID] {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("organizationId", organizationID).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, clients := range b.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	b.clients = make(map[string]map[*Client]bool)
	b.subs = make(map[string]context.CancelFunc)
}

func (b *Broker) ClientCount(organizationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[organizationID])
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, clients := range b.clients {
		total += len(clients)
	}
	return total
}
