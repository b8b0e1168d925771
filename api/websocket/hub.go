package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/0xmhha/explorer-indexer/events"
	"github.com/0xmhha/explorer-indexer/internal/constants"
	"github.com/0xmhha/explorer-indexer/storage"
	"go.uber.org/zap"
)

// ErrBroadcastFull is returned when the hub cannot keep up with publishes
var ErrBroadcastFull = errors.New("broadcast channel full")

// broadcast is one encoded message for a topic, or for every client
type broadcast struct {
	topic string
	all   bool
	data  []byte
}

// Hub maintains the set of active clients and their topics, and delivers
// published records to the clients subscribed to each topic
type Hub struct {
	// clients maps each registered client to its topics
	clients map[*Client]map[string]struct{}
	// rooms maps each topic to its subscribers
	rooms map[string]map[*Client]struct{}
	mu    sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcast

	done     chan struct{}
	stopOnce sync.Once

	metrics *Metrics
	logger  *zap.Logger
}

var _ events.Publisher = (*Hub)(nil)

// NewHub creates a new Hub with the given broadcast buffer size
func NewHub(bufferSize int, logger *zap.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = constants.DefaultHubBroadcastBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]map[string]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcast, bufferSize),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// SetMetrics enables Prometheus metrics for the hub
func (h *Hub) SetMetrics(m *Metrics) {
	h.metrics = m
}

// Run runs the hub until Stop is called
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			select {
			case <-h.done:
				close(client.send)
				return
			default:
			}
			h.mu.Lock()
			h.clients[client] = make(map[string]struct{})
			total := len(h.clients)
			h.mu.Unlock()
			h.metrics.setClients(total)
			h.logger.Info("client registered", zap.Int("total_clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			total := len(h.clients)
			h.mu.Unlock()
			h.metrics.setClients(total)
			h.logger.Info("client unregistered", zap.Int("total_clients", total))

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// Register adds a client. It returns false once the hub is stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client and closes its send channel
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// removeLocked drops client from every room. Caller holds h.mu.
func (h *Hub) removeLocked(client *Client) {
	topics, ok := h.clients[client]
	if !ok {
		return
	}
	for topic := range topics {
		if room := h.rooms[topic]; room != nil {
			delete(room, client)
			if len(room) == 0 {
				delete(h.rooms, topic)
			}
		}
	}
	delete(h.clients, client)
	close(client.send)
}

// Subscribe adds client to topic
func (h *Hub) Subscribe(client *Client, topic string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	topics, ok := h.clients[client]
	if !ok {
		return fmt.Errorf("client not registered")
	}
	topics[topic] = struct{}{}
	room := h.rooms[topic]
	if room == nil {
		room = make(map[*Client]struct{})
		h.rooms[topic] = room
	}
	room[client] = struct{}{}
	return nil
}

// Unsubscribe removes client from topic
func (h *Hub) Unsubscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if topics, ok := h.clients[client]; ok {
		delete(topics, topic)
	}
	if room := h.rooms[topic]; room != nil {
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, topic)
		}
	}
}

// deliver sends msg to its recipients. Clients whose buffer is full are
// disconnected.
func (h *Hub) deliver(msg broadcast) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var recipients []*Client
	if msg.all {
		for client := range h.clients {
			recipients = append(recipients, client)
		}
	} else {
		for client := range h.rooms[msg.topic] {
			recipients = append(recipients, client)
		}
	}

	sent := 0
	for _, client := range recipients {
		select {
		case client.send <- msg.data:
			sent++
		default:
			h.logger.Warn("client buffer full, closing connection",
				zap.String("topic", msg.topic))
			h.removeLocked(client)
			h.metrics.slowClient()
		}
	}
	h.metrics.delivered(sent)
	h.metrics.setClients(len(h.clients))

	h.logger.Debug("event broadcasted",
		zap.String("topic", msg.topic),
		zap.Int("recipients", sent))
}

func (h *Hub) hasSubscribers(topic string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[topic]) > 0
}

// publish encodes env and queues it for delivery. Topics without
// subscribers are skipped.
func (h *Hub) publish(ctx context.Context, env events.Envelope, all bool) error {
	select {
	case <-h.done:
		return events.ErrPublisherClosed
	default:
	}
	if !all && !h.hasSubscribers(env.Topic) {
		return nil
	}

	data, err := encode(MessageEvent, env)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", env.Event, err)
	}

	select {
	case h.broadcast <- broadcast{topic: env.Topic, all: all, data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		h.logger.Warn("broadcast channel full, dropping event", zap.String("topic", env.Topic))
		return ErrBroadcastFull
	}
}

// PublishBlock implements events.Publisher
func (h *Hub) PublishBlock(ctx context.Context, block *storage.Block) error {
	return h.publish(ctx, events.BlockEnvelope(block), false)
}

// PublishTransaction implements events.Publisher
func (h *Hub) PublishTransaction(ctx context.Context, tx *storage.Transaction) error {
	var errs []error
	for _, env := range events.TransactionEnvelopes(tx) {
		if err := h.publish(ctx, env, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishNetworkStats implements events.Publisher. Stats go to every
// connected client.
func (h *Hub) PublishNetworkStats(ctx context.Context, stats *events.NetworkStats) error {
	return h.publish(ctx, events.StatsEnvelope(stats), true)
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCount returns the number of clients subscribed to topic
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[topic])
}

// Stop stops the hub and closes all client connections
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		for client := range h.clients {
			h.removeLocked(client)
		}
		h.mu.Unlock()
		h.metrics.setClients(0)

		h.logger.Info("hub stopped")
	})
}
