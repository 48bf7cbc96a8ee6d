package api

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/annel0/terrainforge/internal/auth"
	"github.com/annel0/terrainforge/internal/cache"
	"github.com/annel0/terrainforge/internal/command"
	"github.com/annel0/terrainforge/internal/eventbus"
	"github.com/annel0/terrainforge/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testServer struct {
	rs       *RestServer
	tokens   *auth.TokenManager
	bus      eventbus.EventBus
	webhooks *OutboundWebhookManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	bus := eventbus.NewMemoryBus(64)
	gen, err := command.NewGenerator(command.Deps{
		Store:   storage.NewMemoryStore(),
		Cache:   cache.NewMemoryCache(nil),
		Bus:     bus,
		Metrics: command.NewMetrics(prometheus.NewRegistry()),
	}, command.Settings{Source: "test", CacheTTL: time.Minute})
	require.NoError(t, err)

	tokens, err := auth.NewTokenManager(testSecret)
	require.NoError(t, err)

	webhooks := NewOutboundWebhookManager("test", nil)
	webhooks.retryDelay = time.Millisecond
	require.NoError(t, webhooks.Attach(bus))
	t.Cleanup(webhooks.Close)

	reg := prometheus.NewRegistry()
	rs, err := NewRestServer(Config{
		Generator:  gen,
		Tokens:     tokens,
		Webhooks:   webhooks,
		Registerer: reg,
		Gatherer:   reg,
	})
	require.NoError(t, err)
	return &testServer{rs: rs, tokens: tokens, bus: bus, webhooks: webhooks}
}

func (ts *testServer) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.rs.Handler().ServeHTTP(w, req)
	return w
}

func (ts *testServer) token(t *testing.T, admin bool) string {
	t.Helper()
	tok, err := ts.tokens.Generate("tester", admin, time.Hour)
	require.NoError(t, err)
	return tok
}

type viewResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    TerrainView `json:"data"`
}

func (ts *testServer) generate(t *testing.T, body string) viewResponse {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/terrain", body, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp viewResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestNewRestServer_RequiresDeps(t *testing.T) {
	_, err := NewRestServer(Config{})
	assert.Error(t, err)
}

func TestGenerate(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.generate(t, `{"detail_level": 2, "seed": 42}`)
	assert.True(t, resp.Success)
	assert.Equal(t, "Ландшафт сгенерирован: размер 100 мм, сетка 5 x 5 точек.", resp.Message)
	assert.Equal(t, 5, resp.Data.Params.Resolution)
	assert.Empty(t, resp.Data.Heights)
	assert.GreaterOrEqual(t, resp.Data.MinHeight, 0.0)
	assert.LessOrEqual(t, resp.Data.MaxHeight, 10.0)

	withHeights := ts.do(t, http.MethodPost, "/api/terrain?include=heights", `{"detail_level": 2, "seed": 43}`, "")
	require.Equal(t, http.StatusCreated, withHeights.Code)
	var full viewResponse
	require.NoError(t, json.Unmarshal(withHeights.Body.Bytes(), &full))
	assert.Len(t, full.Data.Heights, 5)
}

func TestGenerate_DefaultsAndCache(t *testing.T) {
	ts := newTestServer(t)

	first := ts.generate(t, "")
	assert.Equal(t, 17, first.Data.Params.Resolution)
	assert.False(t, first.Data.CacheHit)

	second := ts.generate(t, "")
	assert.True(t, second.Data.CacheHit)
	assert.Equal(t, first.Data.ID, second.Data.ID)
}

func TestGenerate_InvalidInput(t *testing.T) {
	ts := newTestServer(t)

	for _, body := range []string{`{"detail_level": 9}`, `{"terrain_size": -5}`, `{not json`} {
		w := ts.do(t, http.MethodPost, "/api/terrain", body, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestGetAndList(t *testing.T) {
	ts := newTestServer(t)
	created := ts.generate(t, `{"detail_level": 1}`)

	w := ts.do(t, http.MethodGet, "/api/terrain/"+created.Data.ID+"?include=heights", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got viewResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, created.Data.ID, got.Data.ID)
	assert.Len(t, got.Data.Heights, 3)

	w = ts.do(t, http.MethodGet, "/api/terrain/unknown", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/api/terrain?limit=10", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data []string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, []string{created.Data.ID}, list.Data)

	w = ts.do(t, http.MethodGet, "/api/terrain?limit=zero", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExport(t *testing.T) {
	ts := newTestServer(t)
	id := ts.generate(t, `{"detail_level": 2}`).Data.ID

	w := ts.do(t, http.MethodGet, "/api/terrain/"+id+"/export", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "model/obj", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "terrain-"+id+".obj")
	assert.Equal(t, 25, strings.Count(w.Body.String(), "\nv "))

	w = ts.do(t, http.MethodGet, "/api/terrain/"+id+"/export?format=png", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	img, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 5, img.Bounds().Dx())

	w = ts.do(t, http.MethodGet, "/api/terrain/"+id+"/export?format=csv", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	rows, err := csv.NewReader(w.Body).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 5)

	w = ts.do(t, http.MethodGet, "/api/terrain/"+id+"/export?format=stl", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDelete_RequiresAdmin(t *testing.T) {
	ts := newTestServer(t)
	id := ts.generate(t, `{"detail_level": 1}`).Data.ID
	path := "/api/terrain/" + id

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodDelete, path, "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodDelete, path, "", "garbage").Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodDelete, path, "", ts.token(t, false)).Code)

	admin := ts.token(t, true)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodDelete, path, "", admin).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, path, "", "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, path, "", admin).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var health HealthStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.NotEmpty(t, health.Uptime)
	assert.Greater(t, health.MemoryMB, 0.0)

	w = ts.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "terrain_api_http_request_duration_seconds")
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodOptions, "/api/terrain", "", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func dialStream(t *testing.T, ts *testServer) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(ts.rs.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/terrain/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrames(t *testing.T, conn *websocket.Conn) []StreamFrame {
	t.Helper()
	var frames []StreamFrame
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var f StreamFrame
		if err := conn.ReadJSON(&f); err != nil {
			return frames
		}
		frames = append(frames, f)
		if f.Type != StreamProgress {
			return frames
		}
	}
}

func TestStream_ProgressAndResult(t *testing.T) {
	ts := newTestServer(t)
	conn := dialStream(t, ts)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":            StreamGenerate,
		"inputs":          map[string]interface{}{"detail_level": 2, "seed": 5},
		"include_heights": true,
	}))

	frames := readFrames(t, conn)
	require.Len(t, frames, 6)
	for i, f := range frames[:5] {
		assert.Equal(t, StreamProgress, f.Type)
		assert.Equal(t, i, f.Row)
		assert.Equal(t, 5, f.Total)
	}
	last := frames[5]
	assert.Equal(t, StreamResult, last.Type)
	require.NotNil(t, last.Result)
	assert.Len(t, last.Result.Heights, 5)
	assert.Contains(t, last.Summary, "5 x 5")
}

func TestStream_InvalidRequests(t *testing.T) {
	ts := newTestServer(t)

	conn := dialStream(t, ts)
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "hello"}))
	frames := readFrames(t, conn)
	require.Len(t, frames, 1)
	assert.Equal(t, StreamError, frames[0].Type)

	conn = dialStream(t, ts)
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":   StreamGenerate,
		"inputs": map[string]interface{}{"roughness": 42},
	}))
	frames = readFrames(t, conn)
	require.Len(t, frames, 1)
	assert.Equal(t, StreamError, frames[0].Type)
	assert.Contains(t, frames[0].Message, "roughness")
}

func TestStream_CancelFrame(t *testing.T) {
	ts := newTestServer(t)
	conn := dialStream(t, ts)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":   StreamGenerate,
		"inputs": map[string]interface{}{"detail_level": 6, "roughness": 10},
	}))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": StreamCancel}))

	frames := readFrames(t, conn)
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	// Отмена проверяется перед каждой строкой: либо сессия успела отмениться,
	// либо карта была досчитана до прихода cancel.
	switch last.Type {
	case StreamCancelled:
		assert.Less(t, last.RowsStarted, 65)
		assert.Equal(t, len(frames)-1, last.RowsStarted)
	case StreamResult:
		assert.Len(t, frames, 66)
	default:
		t.Fatalf("неожиданный кадр %+v", last)
	}
}

func TestWebhooks_AdminAPIAndDelivery(t *testing.T) {
	ts := newTestServer(t)

	var mu sync.Mutex
	var received []OutboundWebhookEvent
	var signatures []string
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var ev OutboundWebhookEvent
		_ = json.Unmarshal(body, &ev)
		mu.Lock()
		received = append(received, ev)
		signatures = append(signatures, r.Header.Get("X-Webhook-Signature"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	admin := ts.token(t, true)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/admin/webhooks", "", "").Code)

	body := `{"name":"ci","url":"` + hook.URL + `","secret":"s3cret","events":["terrain.generated"]}`
	w := ts.do(t, http.MethodPost, "/api/admin/webhooks", body, admin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet, "/api/admin/webhooks/1", "", admin)
	assert.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodGet, "/api/admin/webhooks/events", "", admin)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "terrain.deleted")

	ts.generate(t, `{"detail_level": 1}`)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "terrain.generated", received[0].EventType)
	assert.True(t, strings.HasPrefix(signatures[0], "sha256="))
	var payload eventbus.TerrainEvent
	require.NoError(t, json.Unmarshal(received[0].Data, &payload))
	assert.Equal(t, 3, payload.Resolution)
	mu.Unlock()

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodDelete, "/api/admin/webhooks/1", "", admin).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/admin/webhooks/1", "", admin).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/admin/webhooks/abc", "", admin).Code)
}

func TestGenerateSignature(t *testing.T) {
	sig := generateSignature([]byte("payload"), "key")
	assert.Equal(t, sig, generateSignature([]byte("payload"), "key"))
	assert.NotEqual(t, sig, generateSignature([]byte("payload"), "other"))
}
