package ws

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/coreman2200/arcasmooth/internal/config"
	"github.com/coreman2200/arcasmooth/internal/smoothing"
)

// ControlMessage is one request on /ws/control. Fields left out are ignored;
// several may be combined and are applied in field order.
type ControlMessage struct {
	Settings  *smoothing.Settings `json:"settings,omitempty"`
	Component string              `json:"component,omitempty"`
	Active    *bool               `json:"active,omitempty"`
	Select    *int                `json:"select,omitempty"`
	Force     bool                `json:"force,omitempty"`
	Pause     *bool               `json:"pause,omitempty"`
}

// ControlReply answers every control message with the resulting state.
type ControlReply struct {
	OK       bool               `json:"ok"`
	Error    string             `json:"error,omitempty"`
	Settings smoothing.Settings `json:"settings"`
	Stats    smoothing.Stats    `json:"stats"`
}

func (s *Server) HandleControlWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p := &peer{id: uuid.NewString(), conn: conn}
	defer conn.Close()
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		var msg ControlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = p.sendJSON(s.reply(fmt.Errorf("decode control message: %w", err)))
			continue
		}
		_ = p.sendJSON(s.reply(s.applyControl(msg)))
	}
}

func (s *Server) reply(err error) ControlReply {
	out := ControlReply{OK: err == nil, Settings: s.eng.Settings(), Stats: s.eng.Snapshot()}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

func (s *Server) applyControl(msg ControlMessage) error {
	if msg.Settings != nil {
		if err := s.eng.ApplySettings(*msg.Settings); err != nil {
			s.log.Warn().Err(err).Msg("settings rejected")
			return err
		}
		s.log.Info().Interface("settings", msg.Settings).Msg("settings applied")
		s.saveConfig()
	}
	if msg.Component != "" {
		if msg.Active == nil {
			return fmt.Errorf("component %q needs active", msg.Component)
		}
		if !s.eng.ComponentStateChange(smoothing.ParseComponent(msg.Component), *msg.Active) {
			s.log.Debug().Str("target", msg.Component).Msg("component ignored")
		}
	}
	if msg.Select != nil {
		if !s.eng.SelectConfig(*msg.Select, msg.Force) {
			return fmt.Errorf("unknown smoothing config %d, fell back to 0", *msg.Select)
		}
	}
	if msg.Pause != nil {
		s.eng.SetPause(*msg.Pause)
	}
	return nil
}

// saveConfig writes the running config 0 back into the YAML file.
func (s *Server) saveConfig() {
	if s.ConfigPath == "" || s.Base == nil {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	cfg := *s.Base
	cfg.Smoothing = s.eng.Settings()
	if err := config.Save(s.ConfigPath, &cfg); err != nil {
		s.log.Error().Err(err).Str("path", s.ConfigPath).Msg("save config")
		return
	}
	s.Base.Smoothing = cfg.Smoothing
}
