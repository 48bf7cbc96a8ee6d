package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/terrainforge/internal/api"
	"github.com/annel0/terrainforge/internal/app"
	"github.com/annel0/terrainforge/internal/auth"
	"github.com/annel0/terrainforge/internal/config"
	"github.com/annel0/terrainforge/internal/logging"
	"github.com/annel0/terrainforge/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (иначе TERRAIN_CONFIG)")
	flag.Parse()

	if err := logging.InitDefaultLogger("terrain-server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	defer logging.GetLoggerManager().CloseAll()

	logging.Info("🏔️ Запуск TerrainForge...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("❌ %v", err)
		log.Fatalf("❌ %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		logging.Error("❌ Ошибка инициализации OpenTelemetry: %v", err)
		log.Fatalf("❌ Ошибка инициализации OpenTelemetry: %v", err)
	}

	// === МЕТРИКИ ===
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// === КОМПОНЕНТЫ ===
	services, err := app.New(cfg, reg)
	if err != nil {
		logging.Error("❌ Ошибка инициализации сервисов: %v", err)
		log.Fatalf("❌ Ошибка инициализации сервисов: %v", err)
	}

	tokens, err := newTokenManager(cfg.Auth)
	if err != nil {
		logging.Error("❌ %v", err)
		log.Fatalf("❌ %v", err)
	}

	webhooks := api.NewOutboundWebhookManager(services.NodeID, logging.GetAPILogger())
	if err := webhooks.Attach(services.Bus); err != nil {
		logging.Error("❌ Ошибка подписки webhook'ов: %v", err)
		log.Fatalf("❌ Ошибка подписки webhook'ов: %v", err)
	}
	for _, wc := range cfg.Webhooks {
		w := webhooks.AddWebhook(api.OutboundWebhook{
			Name:       wc.Name,
			URL:        wc.URL,
			Secret:     wc.Secret,
			Events:     wc.Events,
			Timeout:    wc.Timeout,
			RetryCount: wc.RetryCount,
		})
		logging.Info("🔔 Webhook %s → %s (%v)", w.Name, w.URL, w.Events)
	}

	defaults := services.DefaultInputs()
	restPort := cfg.Server.GetRESTPort()
	server, err := api.NewRestServer(api.Config{
		Addr:        fmt.Sprintf(":%d", restPort),
		ServiceName: "terrain_api",
		Generator:   services.Generator,
		Tokens:      tokens,
		Webhooks:    webhooks,
		Defaults:    &defaults,
		Registerer:  reg,
		Gatherer:    reg,
		Logger:      logging.GetAPILogger(),
	})
	if err != nil {
		logging.Error("❌ Ошибка создания REST API: %v", err)
		log.Fatalf("❌ Ошибка создания REST API: %v", err)
	}

	metricsPort := cfg.Server.GetMetricsPort()
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", metricsPort),
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() { errCh <- server.Start() }()
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logging.Info("✅ Все сервисы запущены")
	logging.Info("   🌐 REST API: http://localhost:%d/api/terrain", restPort)
	logging.Info("   📊 Метрики: http://localhost:%d/metrics", metricsPort)
	logging.Info("   ❤️  Health check: http://localhost:%d/health", restPort)
	logging.Info("💡 curl -X POST http://localhost:%d/api/terrain -d '{\"detail_level\":5,\"seed\":7}'", restPort)

	select {
	case <-ctx.Done():
		logging.Info("📡 Получен сигнал завершения, остановка...")
	case err := <-errCh:
		if err != nil {
			logging.Error("❌ Сервер остановлен с ошибкой: %v", err)
		}
	}

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки сервера метрик: %v", err)
	}
	webhooks.Close()
	if err := services.Close(); err != nil {
		logging.Error("❌ Ошибка закрытия сервисов: %v", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logging.Warn("⚠️ Ошибка остановки OpenTelemetry: %v", err)
	}

	logging.Info("👋 Сервер успешно остановлен")
}

func newTokenManager(cfg config.AuthConfig) (*auth.TokenManager, error) {
	secret := cfg.GetJWTSecret()
	if secret == "" {
		logging.Warn("⚠️ TERRAIN_JWT_SECRET не задан: используется случайный секрет, DELETE недоступен для внешних токенов")
		return auth.NewRandomTokenManager(), nil
	}
	return auth.NewTokenManager(secret)
}
