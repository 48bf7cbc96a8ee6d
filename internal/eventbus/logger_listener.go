package eventbus

import (
	"context"

	"github.com/annel0/terrainforge/internal/logging"
)

// StartLoggingListener подписывается на все события и пишет их в лог.
// Функция неблокирующая.
func StartLoggingListener(bus EventBus) (Subscription, error) {
	sub, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		var te TerrainEvent
		if err := ev.Decode(&te); err != nil {
			logging.Debug("[EventBus] %s %s src=%s size=%dB", ev.ID, ev.EventType, ev.Source, len(ev.Payload))
			return
		}
		logging.Debug("[EventBus] %s %s src=%s record=%s grid=%d seed=%d",
			ev.ID, ev.EventType, ev.Source, te.RecordID, te.Resolution, te.Seed)
	})
	if err != nil {
		return nil, err
	}
	logging.Info("🪵 LoggingListener: подписка на все события активирована")
	return sub, nil
}
