// Package ws exposes the smoothing engine over HTTP: frame ingestion, output
// preview, the diagnostics stream, settings/lifecycle control and health.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/arcasmooth/internal/config"
	"github.com/coreman2200/arcasmooth/internal/diagnostics"
	"github.com/coreman2200/arcasmooth/internal/layout"
	"github.com/coreman2200/arcasmooth/internal/rgb"
	"github.com/coreman2200/arcasmooth/internal/smoothing"
)

const (
	writeWait   = 200 * time.Millisecond
	maxFrameLen = 1 << 20
	diagBacklog = 32
)

// Engine is the slice of smoothing.Engine the server drives.
type Engine interface {
	Ingest(rgb.Frame) error
	ApplySettings(smoothing.Settings) error
	Settings() smoothing.Settings
	ComponentStateChange(smoothing.Component, bool) bool
	SelectConfig(id int, force bool) bool
	SetPause(bool)
	Snapshot() smoothing.Stats
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// peer serializes writes to one connection.
type peer struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *peer) send(kind int, b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(kind, b)
}

func (p *peer) sendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.send(websocket.TextMessage, b)
}

type Server struct {
	eng    Engine
	layout layout.Layout
	driver string
	log    zerolog.Logger

	// ConfigPath and Base drive persistence of settings changed over the
	// control socket. Both empty disables saving.
	ConfigPath string
	Base       *config.Config

	mu          sync.RWMutex
	frameID     uint64
	startTime   time.Time
	preview     map[*peer]struct{}
	diagClients map[*peer]struct{}
	backlog     []diagnostics.Diagnostic

	diagCh chan diagnostics.Diagnostic
	saveMu sync.Mutex
}

func NewServer(eng Engine, l layout.Layout, driver string) *Server {
	return &Server{
		eng:         eng,
		layout:      l,
		driver:      driver,
		log:         log.With().Str("component", "ws").Logger(),
		startTime:   time.Now(),
		preview:     map[*peer]struct{}{},
		diagClients: map[*peer]struct{}{},
		diagCh:      make(chan diagnostics.Diagnostic, 64),
	}
}

// Routes registers every handler on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/ingest", s.HandleIngestWS)
	mux.HandleFunc("/ws/preview", s.HandlePreviewWS)
	mux.HandleFunc("/ws/diag", s.HandleDiagWS)
	mux.HandleFunc("/ws/control", s.HandleControlWS)
	mux.HandleFunc("/health", s.HandleHealth)
}

// Run fans queued diagnostics out to diag clients until ctx is done.
func (s *Server) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-s.diagCh:
			s.pushDiag(d)
		}
	}
}

// Diag is a diagnostics.Sink. It never blocks; when the queue is full the
// record is logged and dropped.
func (s *Server) Diag(d diagnostics.Diagnostic) {
	select {
	case s.diagCh <- d:
	default:
		s.log.Warn().Str("code", d.Code).Msg("diagnostic dropped, stream backed up")
	}
}

// Write mirrors a finalized frame to preview clients.
func (s *Server) Write(f rgb.Frame) error {
	s.mu.Lock()
	s.frameID++
	id := s.frameID
	peers := make([]*peer, 0, len(s.preview))
	for p := range s.preview {
		peers = append(peers, p)
	}
	s.mu.Unlock()
	if len(peers) == 0 {
		return nil
	}

	type frame struct {
		T       int64  `json:"t"`
		FrameID uint64 `json:"frame_id"`
		RGB     []byte `json:"rgb"`
	}
	b, err := json.Marshal(frame{T: time.Now().UnixNano(), FrameID: id, RGB: f.Bytes()})
	if err != nil {
		return err
	}
	for _, p := range peers {
		if err := p.send(websocket.TextMessage, b); err != nil {
			s.log.Debug().Err(err).Str("peer", p.id).Msg("write preview frame")
		}
	}
	return nil
}

func (s *Server) HandleIngestWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p := &peer{id: uuid.NewString(), conn: conn}
	conn.SetReadLimit(maxFrameLen)
	logger := s.log.With().Str("peer", p.id).Str("remote", r.RemoteAddr).Logger()
	logger.Info().Msg("producer connected")

	go func() {
		defer conn.Close()
		var accepted, dropped int
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				logger.Info().Int("accepted", accepted).Int("inactive", dropped).Msg("producer disconnected")
				return
			}
			if kind != websocket.BinaryMessage {
				_ = p.sendJSON(map[string]string{"error": "frames must be binary RGB"})
				continue
			}
			f, err := rgb.FromBytes(data)
			if err == nil {
				err = s.eng.Ingest(f)
			}
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, smoothing.ErrInactive):
				dropped++
			default:
				logger.Debug().Err(err).Msg("frame rejected")
				_ = p.sendJSON(map[string]string{"error": err.Error()})
			}
		}
	}()
}

func (s *Server) HandlePreviewWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p := &peer{id: uuid.NewString(), conn: conn}
	_ = p.sendJSON(s.topology())
	s.mu.Lock()
	s.preview[p] = struct{}{}
	s.mu.Unlock()
	go s.drain(p, s.preview)
}

func (s *Server) HandleDiagWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p := &peer{id: uuid.NewString(), conn: conn}
	s.mu.Lock()
	backlog := append([]diagnostics.Diagnostic(nil), s.backlog...)
	s.diagClients[p] = struct{}{}
	s.mu.Unlock()
	for _, d := range backlog {
		_ = p.sendJSON(d)
	}
	go s.drain(p, s.diagClients)
}

// drain reads until the client goes away, then unregisters it.
func (s *Server) drain(p *peer, set map[*peer]struct{}) {
	defer func() {
		s.mu.Lock()
		delete(set, p)
		s.mu.Unlock()
		p.conn.Close()
	}()
	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	resp := map[string]any{
		"frame_id":      s.frameID,
		"uptime_s":      time.Since(s.startTime).Seconds(),
		"count":         s.layout.Count(),
		"driver":        s.driver,
		"preview_peers": len(s.preview),
		"diag_peers":    len(s.diagClients),
		"recent_diag":   len(s.backlog),
	}
	s.mu.RUnlock()
	resp["smoothing"] = s.eng.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) topology() map[string]any {
	return map[string]any{
		"dim":    map[string]int{"x": s.layout.Dim.X, "y": s.layout.Dim.Y, "z": s.layout.Dim.Z},
		"order":  map[string]bool{"xFlipEveryRow": s.layout.Order.XFlipEveryRow, "yFlipEveryPanel": s.layout.Order.YFlipEveryPanel},
		"count":  s.layout.Count(),
		"driver": s.driver,
	}
}

func (s *Server) pushDiag(d diagnostics.Diagnostic) {
	b, err := json.Marshal(d)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.backlog = append(s.backlog, d)
	if len(s.backlog) > diagBacklog {
		s.backlog = s.backlog[len(s.backlog)-diagBacklog:]
	}
	peers := make([]*peer, 0, len(s.diagClients))
	for p := range s.diagClients {
		peers = append(peers, p)
	}
	s.mu.Unlock()
	for _, p := range peers {
		_ = p.send(websocket.TextMessage, b)
	}
}
