package api

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/annel0/terrainforge/internal/command"
	"github.com/annel0/terrainforge/internal/terrain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Типы сообщений потока генерации
const (
	StreamGenerate  = "generate"
	StreamCancel    = "cancel"
	StreamProgress  = "progress"
	StreamResult    = "result"
	StreamCancelled = "cancelled"
	StreamError     = "error"
)

const (
	streamReadLimit   = 1 << 16
	streamReadTimeout = 60 * time.Second
	streamWriteWait   = 10 * time.Second
)

// StreamRequest — сообщение клиента.
type StreamRequest struct {
	Type           string          `json:"type"`
	Inputs         json.RawMessage `json:"inputs,omitempty"`
	IncludeHeights bool            `json:"include_heights,omitempty"`
}

// StreamFrame — сообщение сервера.
type StreamFrame struct {
	Type        string       `json:"type"`
	Row         int          `json:"row"`
	Total       int          `json:"total,omitempty"`
	RowsStarted int          `json:"rows_started,omitempty"`
	Summary     string       `json:"summary,omitempty"`
	Result      *TerrainView `json:"result,omitempty"`
	Message     string       `json:"message,omitempty"`
}

type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) write(frame StreamFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return w.conn.WriteJSON(frame)
}

func (w *wsWriter) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(streamWriteWait))
}

// handleStream — GET /api/terrain/stream. Клиент присылает generate,
// получает progress на каждую строку и итоговый result. Сообщение cancel
// или разрыв соединения отменяют генерацию.
func (rs *RestServer) handleStream(c *gin.Context) {
	conn, err := rs.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		rs.log.Warn("⚠️ WebSocket upgrade не удался: %v", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(streamReadLimit)
	conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	ws := &wsWriter{conn: conn}

	var req StreamRequest
	if err := conn.ReadJSON(&req); err != nil {
		return
	}
	if req.Type != StreamGenerate {
		_ = ws.write(StreamFrame{Type: StreamError, Message: "ожидалось сообщение generate"})
		ws.close()
		return
	}
	in, err := rs.streamInputs(req.Inputs)
	if err != nil {
		_ = ws.write(StreamFrame{Type: StreamError, Message: err.Error()})
		ws.close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	session := rs.generator.NewSession()
	session.OnProgress(func(row, total int) {
		if err := ws.write(StreamFrame{Type: StreamProgress, Row: row, Total: total}); err != nil {
			session.Cancel()
		}
	})

	// Читатель следит за cancel и разрывом соединения
	go func() {
		for {
			var msg StreamRequest
			if err := conn.ReadJSON(&msg); err != nil {
				session.Cancel()
				return
			}
			if msg.Type == StreamCancel {
				rs.log.Debug("⛔ Сессия %s: отмена по запросу клиента", session.ID())
				session.Cancel()
			}
		}
	}()

	rowsStarted := 0
	session.OnCancel(func(rows int) { rowsStarted = rows })

	res, err := session.Execute(c.Request.Context(), in)
	switch {
	case errors.Is(err, terrain.ErrCancelled):
		_ = ws.write(StreamFrame{Type: StreamCancelled, RowsStarted: rowsStarted, Message: err.Error()})
	case err != nil:
		_ = ws.write(StreamFrame{Type: StreamError, Message: err.Error()})
	default:
		view := newTerrainView(res.Record, req.IncludeHeights)
		view.CacheHit = res.CacheHit
		_ = ws.write(StreamFrame{Type: StreamResult, Summary: res.Summary, Result: &view})
	}
	ws.close()
}

func (rs *RestServer) streamInputs(raw json.RawMessage) (command.Inputs, error) {
	in := rs.defaults
	if len(raw) == 0 {
		return in, nil
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return in, err
	}
	return in, in.Validate()
}
