package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/annel0/terrainforge/internal/eventbus"
	"github.com/annel0/terrainforge/internal/logging"
)

// OutboundWebhook представляет исходящий webhook
type OutboundWebhook struct {
	ID           uint64     `json:"id"`
	Name         string     `json:"name" binding:"required"`
	URL          string     `json:"url" binding:"required,url"`
	Secret       string     `json:"secret,omitempty"`
	Events       []string   `json:"events" binding:"required"` // События, на которые подписан
	Active       bool       `json:"active"`
	Timeout      int        `json:"timeout"` // Таймаут в секундах
	RetryCount   int        `json:"retry_count"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsed     *time.Time `json:"last_used,omitempty"`
	FailureCount int        `json:"failure_count"`
}

// OutboundWebhookEvent — тело запроса к webhook'у
type OutboundWebhookEvent struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Timestamp int64           `json:"timestamp"`
	ServerID  string          `json:"server_id"`
	Source    string          `json:"source"`
	Data      json.RawMessage `json:"data"`
}

// OutboundWebhookManager пересылает события шины во внешние webhook'и
type OutboundWebhookManager struct {
	webhooks   map[uint64]*OutboundWebhook
	eventQueue chan OutboundWebhookEvent
	mu         sync.RWMutex
	nextID     uint64
	httpClient *http.Client
	serverID   string
	retryDelay time.Duration
	closed     bool
	sub        eventbus.Subscription
	wg         sync.WaitGroup
	log        *logging.Logger
}

// NewOutboundWebhookManager создает новый менеджер исходящих webhook'ов
func NewOutboundWebhookManager(serverID string, log *logging.Logger) *OutboundWebhookManager {
	manager := &OutboundWebhookManager{
		webhooks:   make(map[uint64]*OutboundWebhook),
		eventQueue: make(chan OutboundWebhookEvent, 1000),
		nextID:     1,
		serverID:   serverID,
		retryDelay: time.Second,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}

	manager.wg.Add(1)
	go manager.eventWorker()

	return manager
}

// Attach подписывает менеджер на все события шины.
func (owm *OutboundWebhookManager) Attach(bus eventbus.EventBus) error {
	sub, err := bus.Subscribe(context.Background(), eventbus.Filter{}, func(ctx context.Context, ev *eventbus.Envelope) {
		owm.enqueue(OutboundWebhookEvent{
			EventID:   ev.ID,
			EventType: ev.EventType,
			Timestamp: ev.Timestamp.Unix(),
			ServerID:  owm.serverID,
			Source:    ev.Source,
			Data:      json.RawMessage(ev.Payload),
		})
	})
	if err != nil {
		return err
	}
	owm.mu.Lock()
	owm.sub = sub
	owm.mu.Unlock()
	return nil
}

// AddWebhook добавляет новый webhook
func (owm *OutboundWebhookManager) AddWebhook(webhook OutboundWebhook) *OutboundWebhook {
	owm.mu.Lock()
	defer owm.mu.Unlock()

	webhook.ID = owm.nextID
	owm.nextID++
	webhook.CreatedAt = time.Now()
	webhook.Active = true

	if webhook.Timeout == 0 {
		webhook.Timeout = 30
	}
	if webhook.RetryCount == 0 {
		webhook.RetryCount = 3
	}

	owm.webhooks[webhook.ID] = &webhook
	cp := webhook
	return &cp
}

// GetWebhooks возвращает копии всех webhook'ов, упорядоченные по ID
func (owm *OutboundWebhookManager) GetWebhooks() []OutboundWebhook {
	owm.mu.RLock()
	defer owm.mu.RUnlock()

	webhooks := make([]OutboundWebhook, 0, len(owm.webhooks))
	for _, webhook := range owm.webhooks {
		webhooks = append(webhooks, *webhook)
	}
	sort.Slice(webhooks, func(i, j int) bool { return webhooks[i].ID < webhooks[j].ID })
	return webhooks
}

// GetWebhook возвращает копию webhook'а по ID
func (owm *OutboundWebhookManager) GetWebhook(id uint64) (OutboundWebhook, bool) {
	owm.mu.RLock()
	defer owm.mu.RUnlock()

	webhook, exists := owm.webhooks[id]
	if !exists {
		return OutboundWebhook{}, false
	}
	return *webhook, true
}

// DeleteWebhook удаляет webhook
func (owm *OutboundWebhookManager) DeleteWebhook(id uint64) bool {
	owm.mu.Lock()
	defer owm.mu.Unlock()

	if _, exists := owm.webhooks[id]; !exists {
		return false
	}
	delete(owm.webhooks, id)
	return true
}

// Close отписывается от шины и дожидается отправки поставленных событий.
func (owm *OutboundWebhookManager) Close() {
	owm.mu.Lock()
	if owm.closed {
		owm.mu.Unlock()
		return
	}
	owm.closed = true
	sub := owm.sub
	close(owm.eventQueue)
	owm.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	owm.wg.Wait()
}

func (owm *OutboundWebhookManager) enqueue(event OutboundWebhookEvent) {
	owm.mu.RLock()
	defer owm.mu.RUnlock()
	if owm.closed {
		return
	}
	select {
	case owm.eventQueue <- event:
	default:
		owm.log.Warn("⚠️ Очередь webhook'ов переполнена, событие %s пропущено", event.EventType)
	}
}

// eventWorker обрабатывает события из очереди
func (owm *OutboundWebhookManager) eventWorker() {
	defer owm.wg.Done()
	for event := range owm.eventQueue {
		owm.processEvent(event)
	}
}

// processEvent обрабатывает одно событие
func (owm *OutboundWebhookManager) processEvent(event OutboundWebhookEvent) {
	owm.mu.RLock()
	webhooks := make([]*OutboundWebhook, 0)
	for _, webhook := range owm.webhooks {
		if webhook.Active && isSubscribedToEvent(webhook, event.EventType) {
			webhooks = append(webhooks, webhook)
		}
	}
	owm.mu.RUnlock()

	for _, webhook := range webhooks {
		owm.wg.Add(1)
		go func(w *OutboundWebhook) {
			defer owm.wg.Done()
			owm.sendToWebhook(w, event)
		}(webhook)
	}
}

// isSubscribedToEvent проверяет, подписан ли webhook на событие
func isSubscribedToEvent(webhook *OutboundWebhook, eventType string) bool {
	for _, subscribedEvent := range webhook.Events {
		if subscribedEvent == eventType || subscribedEvent == "*" {
			return true
		}
	}
	return false
}

// sendToWebhook отправляет событие конкретному webhook'у
func (owm *OutboundWebhookManager) sendToWebhook(webhook *OutboundWebhook, event OutboundWebhookEvent) {
	owm.mu.RLock()
	name, url, secret := webhook.Name, webhook.URL, webhook.Secret
	timeout, retries := webhook.Timeout, webhook.RetryCount
	owm.mu.RUnlock()

	jsonData, err := json.Marshal(event)
	if err != nil {
		owm.log.Error("❌ Ошибка маршалинга события для webhook %s: %v", name, err)
		return
	}

	success := false
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * owm.retryDelay)
		}
		status, err := owm.post(url, secret, timeout, event, jsonData)
		if err != nil {
			owm.log.Warn("⚠️ Попытка %d/%d для webhook %s: %v", attempt+1, retries+1, name, err)
			continue
		}
		if status >= 200 && status < 300 {
			success = true
			owm.log.Debug("✅ Событие %s отправлено в webhook %s", event.EventType, name)
			break
		}
		owm.log.Warn("⚠️ Webhook %s вернул статус %d на попытке %d", name, status, attempt+1)
	}

	owm.mu.Lock()
	now := time.Now()
	webhook.LastUsed = &now
	if !success {
		webhook.FailureCount++
	}
	owm.mu.Unlock()
}

// post создаёт новый запрос на каждую попытку: тело запроса одноразовое.
func (owm *OutboundWebhookManager) post(url, secret string, timeout int, event OutboundWebhookEvent, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "TerrainForge/1.0")
	req.Header.Set("X-Event-Type", event.EventType)
	req.Header.Set("X-Server-ID", event.ServerID)
	if secret != "" {
		req.Header.Set("X-Webhook-Signature", generateSignature(body, secret))
	}

	resp, err := owm.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// generateSignature генерирует HMAC подпись
func generateSignature(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// GetEventTypes возвращает доступные типы событий
func GetEventTypes() []string {
	return []string{
		eventbus.TypeTerrainGenerated,
		eventbus.TypeTerrainCancelled,
		eventbus.TypeTerrainDeleted,
	}
}
