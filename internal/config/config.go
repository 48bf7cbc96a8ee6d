package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации приложения.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Terrain   TerrainConfig   `yaml:"terrain"`
	Storage   StorageConfig   `yaml:"storage"`
	Cache     CacheConfig     `yaml:"cache"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Auth      AuthConfig      `yaml:"auth"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Webhooks  []WebhookConfig `yaml:"webhooks"`
}

type ServerConfig struct {
	RESTPort    int `yaml:"rest_port"`
	MetricsPort int `yaml:"metrics_port"`
}

// TerrainConfig — значения полей команды по умолчанию и настройки генератора.
type TerrainConfig struct {
	TerrainSize float64 `yaml:"terrain_size"`
	HeightScale float64 `yaml:"height_scale"`
	DetailLevel int     `yaml:"detail_level"`
	Roughness   int     `yaml:"roughness"`
	Seed        int64   `yaml:"seed"`
	Workers     int     `yaml:"workers"`
	NoiseBasis  string  `yaml:"noise_basis"` // value | perlin
	LegacySeed  bool    `yaml:"legacy_seed"` // сид не влияет на рельеф, как в исходном генераторе
}

type StorageConfig struct {
	Backend         string `yaml:"backend"` // memory | badger | maria | mongo
	Path            string `yaml:"path"`    // каталог BadgerDB
	MariaDSN        string `yaml:"maria_dsn"`
	MongoURI        string `yaml:"mongo_uri"`
	MongoDatabase   string `yaml:"mongo_database"`
	MongoCollection string `yaml:"mongo_collection"`
}

type CacheConfig struct {
	RedisURL      string        `yaml:"redis_url"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// WebhookConfig — исходящий webhook, регистрируемый при старте сервера.
type WebhookConfig struct {
	Name       string   `yaml:"name"`
	URL        string   `yaml:"url"`
	Secret     string   `yaml:"secret"`
	Events     []string `yaml:"events"`
	Timeout    int      `yaml:"timeout_seconds"`
	RetryCount int      `yaml:"retry_count"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Default возвращает конфигурацию по умолчанию (значения полей исходной команды).
func Default() *Config {
	return &Config{
		Terrain: TerrainConfig{
			TerrainSize: 100,
			HeightScale: 10,
			DetailLevel: 4,
			Roughness:   5,
			Seed:        42,
			Workers:     1,
			NoiseBasis:  "value",
		},
		Storage: StorageConfig{
			Backend:         "memory",
			Path:            "data",
			MongoDatabase:   "terrainforge",
			MongoCollection: "heightmaps",
		},
		Cache: CacheConfig{
			TTL: 10 * time.Minute,
		},
		EventBus: EventBusConfig{
			Stream:    "TERRAIN",
			Retention: 24,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "terrainforge",
		},
	}
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "TERRAIN_REST_PORT", 8088)
}

// GetMetricsPort возвращает порт Prometheus метрик шины событий
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "TERRAIN_METRICS_PORT", 2112)
}

// GetJWTSecret возвращает секрет JWT: config -> env TERRAIN_JWT_SECRET.
func (a *AuthConfig) GetJWTSecret() string {
	return getStringWithEnvFallback(a.JWTSecret, "TERRAIN_JWT_SECRET", "")
}

// GetRedisURL возвращает адрес Redis: config -> env TERRAIN_REDIS_URL.
func (c *CacheConfig) GetRedisURL() string {
	return getStringWithEnvFallback(c.RedisURL, "TERRAIN_REDIS_URL", "")
}

// GetNATSURL возвращает адрес NATS: config -> env TERRAIN_NATS_URL.
func (e *EventBusConfig) GetNATSURL() string {
	return getStringWithEnvFallback(e.URL, "TERRAIN_NATS_URL", "")
}

// RetentionDuration переводит часы хранения событий в time.Duration.
func (e *EventBusConfig) RetentionDuration() time.Duration {
	return time.Duration(e.Retention) * time.Hour
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

func getStringWithEnvFallback(configVal, envVar, defaultVal string) string {
	if configVal != "" {
		return configVal
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		return envVal
	}
	return defaultVal
}

// Load читает YAML файл конфигурации поверх Default().
// Если path == "", пытается прочитать из ENV TERRAIN_CONFIG, иначе возвращает Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("TERRAIN_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения конфигурации %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфигурации %s: %w", path, err)
	}

	return cfg, nil
}
