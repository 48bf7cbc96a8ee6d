package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/terrainforge/internal/logging"
	"github.com/nats-io/nats.go"
)

// NATSInvalidator рассылает инвалидации кеша карт между узлами через NATS.
// Собственные сообщения узла и повторы в окне дедупликации игнорируются.
type NATSInvalidator struct {
	conn    *nats.Conn
	config  *InvalidatorConfig
	subject string
	nodeID  string

	mu           sync.Mutex
	subscription *nats.Subscription
	recentKeys   map[string]time.Time

	publishedCount int64
	receivedCount  int64
	errorsCount    int64
}

// InvalidatorConfig содержит конфигурацию для NATS invalidator.
type InvalidatorConfig struct {
	NATSURL       string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
	DedupeWindow  time.Duration
}

// InvalidationMessage представляет сообщение об инвалидации кеша.
type InvalidationMessage struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
}

// NewNATSInvalidator подключается к NATS.
func NewNATSInvalidator(config *InvalidatorConfig, nodeID string) (*NATSInvalidator, error) {
	if config.Subject == "" {
		config.Subject = "terrain.cache.invalidation"
	}
	if config.MaxReconnects == 0 {
		config.MaxReconnects = 10
	}
	if config.ReconnectWait == 0 {
		config.ReconnectWait = 2 * time.Second
	}
	if config.DedupeWindow == 0 {
		config.DedupeWindow = 5 * time.Second
	}

	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Warn("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(config.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logging.Info("NATS invalidator initialized: %s (subject: %s)", config.NATSURL, config.Subject)
	return &NATSInvalidator{
		conn:       conn,
		config:     config,
		subject:    config.Subject,
		nodeID:     nodeID,
		recentKeys: make(map[string]time.Time),
	}, nil
}

// PublishInvalidation отправляет уведомление об инвалидации ключа.
func (n *NATSInvalidator) PublishInvalidation(ctx context.Context, key string) error {
	if n.seenRecently(key) {
		return nil
	}

	data, err := json.Marshal(&InvalidationMessage{
		Key:       key,
		Timestamp: time.Now(),
		NodeID:    n.nodeID,
	})
	if err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		return fmt.Errorf("failed to marshal invalidation message: %w", err)
	}

	if err := n.conn.Publish(n.subject, data); err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}

	atomic.AddInt64(&n.publishedCount, 1)
	logging.Debug("Published invalidation for key: %s", key)
	return nil
}

// SubscribeInvalidations подписывается на уведомления других узлов.
func (n *NATSInvalidator) SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.subscription != nil {
		return fmt.Errorf("already subscribed to invalidations")
	}

	sub, err := n.conn.Subscribe(n.subject, func(msg *nats.Msg) {
		n.handle(msg, handler)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to invalidations: %w", err)
	}
	n.subscription = sub

	logging.Info("Subscribed to cache invalidations on subject: %s", n.subject)
	return nil
}

func (n *NATSInvalidator) handle(msg *nats.Msg, handler InvalidationHandler) {
	atomic.AddInt64(&n.receivedCount, 1)

	var m InvalidationMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		logging.Error("Failed to unmarshal invalidation message: %v", err)
		return
	}
	if m.NodeID == n.nodeID || n.seenRecently(m.Key) {
		return
	}
	if err := handler(m.Key); err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		logging.Error("Invalidation handler failed for key %s: %v", m.Key, err)
	}
}

// seenRecently отмечает ключ и сообщает, встречался ли он в окне дедупликации.
func (n *NATSInvalidator) seenRecently(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now()
	for k, ts := range n.recentKeys {
		if now.Sub(ts) > n.config.DedupeWindow {
			delete(n.recentKeys, k)
		}
	}
	if ts, ok := n.recentKeys[key]; ok && now.Sub(ts) < n.config.DedupeWindow {
		return true
	}
	n.recentKeys[key] = now
	return false
}

// Close отписывается и закрывает соединение.
func (n *NATSInvalidator) Close() error {
	n.mu.Lock()
	if n.subscription != nil {
		_ = n.subscription.Unsubscribe()
		n.subscription = nil
	}
	n.mu.Unlock()

	n.conn.Close()
	logging.Info("NATS invalidator closed")
	return nil
}

// GetMetrics возвращает метрики invalidator.
func (n *NATSInvalidator) GetMetrics() map[string]interface{} {
	return map[string]interface{}{
		"published_count": atomic.LoadInt64(&n.publishedCount),
		"received_count":  atomic.LoadInt64(&n.receivedCount),
		"errors_count":    atomic.LoadInt64(&n.errorsCount),
		"connected":       n.conn.IsConnected(),
	}
}
