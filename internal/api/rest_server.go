package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/annel0/terrainforge/internal/auth"
	"github.com/annel0/terrainforge/internal/command"
	"github.com/annel0/terrainforge/internal/export"
	"github.com/annel0/terrainforge/internal/logging"
	"github.com/annel0/terrainforge/internal/middleware"
	"github.com/annel0/terrainforge/internal/storage"
	"github.com/annel0/terrainforge/internal/terrain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const defaultListLimit = 50

// RestServer представляет REST API сервер
type RestServer struct {
	router     *gin.Engine
	generator  *command.Generator
	tokens     *auth.TokenManager
	webhooks   *OutboundWebhookManager
	defaults   command.Inputs
	addr       string
	metrics    *ServerMetrics
	httpServer *http.Server
	upgrader   websocket.Upgrader
	log        *logging.Logger
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Addr        string                  // адрес для запуска сервера
	ServiceName string                  // имя сервиса для метрик и трассировки
	Generator   *command.Generator      // генератор ландшафта
	Tokens      *auth.TokenManager      // проверка JWT для админских маршрутов
	Webhooks    *OutboundWebhookManager // необязательно
	Defaults    *command.Inputs         // значения полей по умолчанию
	Registerer  prometheus.Registerer
	Gatherer    prometheus.Gatherer
	Logger      *logging.Logger
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) (*RestServer, error) {
	if config.Generator == nil {
		return nil, errors.New("генератор не задан")
	}
	if config.Tokens == nil {
		return nil, errors.New("менеджер токенов не задан")
	}
	if config.Addr == "" {
		config.Addr = ":8088"
	}
	if config.ServiceName == "" {
		config.ServiceName = "terrain_api"
	}
	defaults := command.DefaultInputs()
	if config.Defaults != nil {
		defaults = *config.Defaults
	}

	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	router.Use(otelgin.Middleware(config.ServiceName))
	router.Use(middleware.NewRequestLogger(config.Logger).Handler())

	promMw := middleware.NewPrometheusMiddleware(config.ServiceName, config.Registerer)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, config.Gatherer)

	router.Use(corsMiddleware())

	server := &RestServer{
		router:    router,
		generator: config.Generator,
		tokens:    config.Tokens,
		webhooks:  config.Webhooks,
		defaults:  defaults,
		addr:      config.Addr,
		metrics:   NewServerMetrics(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: config.Logger,
	}

	server.setupRoutes()
	return server, nil
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	api := rs.router.Group("/api")

	terrainGroup := api.Group("/terrain")
	{
		terrainGroup.POST("", rs.handleGenerate)
		terrainGroup.GET("", rs.handleList)
		terrainGroup.GET("/stream", rs.handleStream)
		terrainGroup.GET("/:id", rs.handleGet)
		terrainGroup.GET("/:id/export", rs.handleExport)
		terrainGroup.DELETE("/:id", rs.jwtMiddleware(), rs.adminMiddleware(), rs.handleDelete)
	}

	// Административные эндпоинты (только для админов)
	admin := api.Group("/admin")
	admin.Use(rs.jwtMiddleware(), rs.adminMiddleware())
	{
		admin.GET("/webhooks", rs.handleGetOutboundWebhooks)
		admin.POST("/webhooks", rs.handleCreateOutboundWebhook)
		admin.GET("/webhooks/events", rs.handleGetWebhookEventTypes)
		admin.GET("/webhooks/:id", rs.handleGetOutboundWebhook)
		admin.DELETE("/webhooks/:id", rs.handleDeleteOutboundWebhook)
	}

	rs.router.GET("/health", rs.handleHealth)
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// TerrainView — представление записи в ответах API
type TerrainView struct {
	ID        string                 `json:"id"`
	CreatedAt time.Time              `json:"created_at"`
	Basis     string                 `json:"basis"`
	ElapsedMs int64                  `json:"elapsed_ms"`
	Params    terrain.GridParameters `json:"params"`
	MinHeight float64                `json:"min_height"`
	MaxHeight float64                `json:"max_height"`
	CacheHit  bool                   `json:"cache_hit,omitempty"`
	Heights   [][]float64            `json:"heights,omitempty"`
}

func newTerrainView(rec *storage.Record, includeHeights bool) TerrainView {
	lo, hi := rec.Map.Bounds()
	view := TerrainView{
		ID:        rec.ID,
		CreatedAt: rec.CreatedAt,
		Basis:     rec.Basis,
		ElapsedMs: rec.Elapsed.Milliseconds(),
		Params:    rec.Map.Params(),
		MinHeight: lo,
		MaxHeight: hi,
	}
	if includeHeights {
		view.Heights = rec.Map.Rows()
	}
	return view
}

func includeHeights(c *gin.Context) bool {
	return c.Query("include") == "heights"
}

// statusFor переводит ошибку домена в HTTP-статус
func statusFor(err error) int {
	switch {
	case errors.Is(err, command.ErrInvalidInput), errors.Is(err, terrain.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, terrain.ErrCancelled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (rs *RestServer) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		rs.log.Error("❌ %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, GenericResponse{Success: false, Message: err.Error()})
}

// decodeInputs накладывает поля из тела запроса на значения по умолчанию
func (rs *RestServer) decodeInputs(body io.Reader) (command.Inputs, error) {
	in := rs.defaults
	data, err := io.ReadAll(io.LimitReader(body, 1<<16))
	if err != nil {
		return in, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return in, nil
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return in, fmt.Errorf("%w: %v", command.ErrInvalidInput, err)
	}
	return in, nil
}

// handleGenerate — POST /api/terrain
func (rs *RestServer) handleGenerate(c *gin.Context) {
	in, err := rs.decodeInputs(c.Request.Body)
	if err != nil {
		rs.fail(c, err)
		return
	}

	res, err := rs.generator.NewSession().Execute(c.Request.Context(), in)
	if err != nil {
		rs.fail(c, err)
		return
	}

	view := newTerrainView(res.Record, includeHeights(c))
	view.CacheHit = res.CacheHit
	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: res.Summary,
		Data:    view,
	})
}

// handleList — GET /api/terrain
func (rs *RestServer) handleList(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, GenericResponse{
				Success: false,
				Message: "Некорректный limit",
			})
			return
		}
		limit = n
	}

	ids, err := rs.generator.List(c.Request.Context(), limit)
	if err != nil {
		rs.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: fmt.Sprintf("Найдено карт: %d", len(ids)),
		Data:    ids,
	})
}

// handleGet — GET /api/terrain/:id
func (rs *RestServer) handleGet(c *gin.Context) {
	rec, err := rs.generator.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		rs.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: rec.Map.Summary(),
		Data:    newTerrainView(rec, includeHeights(c)),
	})
}

// handleExport — GET /api/terrain/:id/export?format=obj|png|tiff|csv
func (rs *RestServer) handleExport(c *gin.Context) {
	format, err := export.ParseFormat(c.DefaultQuery("format", string(export.FormatOBJ)))
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: err.Error()})
		return
	}

	rec, err := rs.generator.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		rs.fail(c, err)
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, rec.Map, format); err != nil {
		rs.fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "terrain-"+rec.ID+format.Extension()))
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

// handleDelete — DELETE /api/terrain/:id (только для админов)
func (rs *RestServer) handleDelete(c *gin.Context) {
	id := c.Param("id")
	if err := rs.generator.Delete(c.Request.Context(), id); err != nil {
		rs.fail(c, err)
		return
	}
	rs.log.Info("🗑️ Карта %s удалена пользователем %s", id, c.GetString("subject"))
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Карта удалена",
	})
}

// handleHealth возвращает состояние сервера
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, rs.metrics.Snapshot())
}

// Handler возвращает http.Handler сервера
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// Start запускает REST сервер и блокируется до Shutdown
func (rs *RestServer) Start() error {
	rs.httpServer = &http.Server{
		Addr:              rs.addr,
		Handler:           rs.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	rs.log.Info("🌐 REST API слушает %s", rs.addr)
	if err := rs.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown останавливает сервер, дожидаясь завершения активных запросов
func (rs *RestServer) Shutdown(ctx context.Context) error {
	if rs.httpServer == nil {
		return nil
	}
	return rs.httpServer.Shutdown(ctx)
}

// === ОБРАБОТЧИКИ ИСХОДЯЩИХ WEBHOOK'ОВ ===

func (rs *RestServer) requireWebhooks(c *gin.Context) bool {
	if rs.webhooks == nil {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Webhook'и отключены",
		})
		return false
	}
	return true
}

func parseWebhookID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный ID webhook'а",
		})
		return 0, false
	}
	return id, true
}

// handleGetOutboundWebhooks возвращает список исходящих webhook'ов
func (rs *RestServer) handleGetOutboundWebhooks(c *gin.Context) {
	if !rs.requireWebhooks(c) {
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Список webhook'ов получен",
		Data:    rs.webhooks.GetWebhooks(),
	})
}

// handleCreateOutboundWebhook создает новый исходящий webhook
func (rs *RestServer) handleCreateOutboundWebhook(c *gin.Context) {
	if !rs.requireWebhooks(c) {
		return
	}
	var webhook OutboundWebhook
	if err := c.ShouldBindJSON(&webhook); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат данных: " + err.Error(),
		})
		return
	}

	created := rs.webhooks.AddWebhook(webhook)
	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Webhook создан",
		Data:    created,
	})
}

// handleGetOutboundWebhook возвращает webhook по ID
func (rs *RestServer) handleGetOutboundWebhook(c *gin.Context) {
	if !rs.requireWebhooks(c) {
		return
	}
	id, ok := parseWebhookID(c)
	if !ok {
		return
	}
	webhook, found := rs.webhooks.GetWebhook(id)
	if !found {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Webhook не найден",
		})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Webhook найден",
		Data:    webhook,
	})
}

// handleDeleteOutboundWebhook удаляет webhook
func (rs *RestServer) handleDeleteOutboundWebhook(c *gin.Context) {
	if !rs.requireWebhooks(c) {
		return
	}
	id, ok := parseWebhookID(c)
	if !ok {
		return
	}
	if !rs.webhooks.DeleteWebhook(id) {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Webhook не найден",
		})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Webhook удален",
	})
}

// handleGetWebhookEventTypes возвращает доступные типы событий
func (rs *RestServer) handleGetWebhookEventTypes(c *gin.Context) {
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Типы событий получены",
		Data:    GetEventTypes(),
	})
}
