// Package control carries settings and lifecycle events for the smoothing
// engine over MQTT and publishes its status and diagnostics back.
//
// Topics, below Options.Prefix:
//
//	smoothing/settings   JSON smoothing.Settings
//	smoothing/select     {"id": n, "force": bool}
//	smoothing/pause      true | false
//	component/<NAME>     on | off (ALL and SMOOTHING are acted on)
//	status               retained JSON stats, published after every command
//	diag                 JSON diagnostics
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/arcasmooth/internal/diagnostics"
	"github.com/coreman2200/arcasmooth/internal/smoothing"
)

const connectTimeout = 5 * time.Second

type Engine interface {
	ApplySettings(smoothing.Settings) error
	Settings() smoothing.Settings
	ComponentStateChange(smoothing.Component, bool) bool
	SelectConfig(id int, force bool) bool
	SetPause(bool)
	Snapshot() smoothing.Stats
}

type Options struct {
	Broker   string
	ClientID string
	Prefix   string
	QoS      byte
}

func (o *Options) defaults() {
	if o.ClientID == "" {
		o.ClientID = "arcasmooth-" + uuid.NewString()
	}
	if o.Prefix == "" {
		o.Prefix = "arcasmooth"
	}
	o.Prefix = strings.TrimSuffix(o.Prefix, "/")
	if o.QoS > 2 {
		o.QoS = 1
	}
}

type message struct {
	topic   string
	payload []byte
}

// Bridge connects an Engine to a broker.
type Bridge struct {
	opts     Options
	eng      Engine
	client   mqtt.Client
	log      zerolog.Logger
	commands chan message
}

func New(eng Engine, o Options) *Bridge {
	o.defaults()
	return &Bridge{
		opts:     o,
		eng:      eng,
		log:      log.With().Str("component", "mqtt").Str("client_id", o.ClientID).Logger(),
		commands: make(chan message, 16),
	}
}

func (b *Bridge) topic(parts ...string) string {
	return b.opts.Prefix + "/" + strings.Join(parts, "/")
}

// ErrConnectPending means the first connect attempt timed out; the client
// keeps retrying in the background.
var ErrConnectPending = errors.New("mqtt broker not reachable yet")

// Connect dials the broker and processes commands until ctx is done.
// Subscriptions are renewed on every reconnect.
func (b *Bridge) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(b.opts.Broker).
		SetClientID(b.opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetMaxReconnectInterval(30 * time.Second).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			b.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
		})
	b.client = mqtt.NewClient(opts)

	go b.process(ctx)

	b.log.Info().Str("broker", b.opts.Broker).Msg("connecting to mqtt broker")
	token := b.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("%w: %s", ErrConnectPending, b.opts.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", b.opts.Broker, err)
	}
	return nil
}

func (b *Bridge) onConnect(c mqtt.Client) {
	filters := map[string]byte{
		b.topic("smoothing", "+"): b.opts.QoS,
		b.topic("component", "+"): b.opts.QoS,
	}
	token := c.SubscribeMultiple(filters, func(_ mqtt.Client, m mqtt.Message) {
		select {
		case b.commands <- message{topic: m.Topic(), payload: m.Payload()}:
		default:
			b.log.Warn().Str("topic", m.Topic()).Msg("command queue full, dropping")
		}
	})
	if token.WaitTimeout(connectTimeout) && token.Error() != nil {
		b.log.Error().Err(token.Error()).Msg("subscribe")
		return
	}
	b.log.Info().Str("prefix", b.opts.Prefix).Msg("mqtt control subscribed")
	b.publishStatus()
}

func (b *Bridge) process(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-b.commands:
			if err := b.handle(m.topic, m.payload); err != nil {
				b.log.Warn().Err(err).Str("topic", m.topic).Msg("command rejected")
			}
			b.publishStatus()
		}
	}
}

var ErrUnknownTopic = errors.New("unknown control topic")

func (b *Bridge) handle(topic string, payload []byte) error {
	rest, ok := strings.CutPrefix(topic, b.opts.Prefix+"/")
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	group, name, _ := strings.Cut(rest, "/")
	switch group {
	case "component":
		on, err := parseSwitch(payload)
		if err != nil {
			return err
		}
		b.eng.ComponentStateChange(smoothing.ParseComponent(name), on)
		return nil
	case "smoothing":
		return b.handleSmoothing(name, payload)
	}
	return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
}

func (b *Bridge) handleSmoothing(name string, payload []byte) error {
	switch name {
	case "settings":
		var s smoothing.Settings
		if err := json.Unmarshal(payload, &s); err != nil {
			return fmt.Errorf("decode settings: %w", err)
		}
		return b.eng.ApplySettings(s)
	case "select":
		var req struct {
			ID    int  `json:"id"`
			Force bool `json:"force"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("decode select: %w", err)
		}
		if !b.eng.SelectConfig(req.ID, req.Force) {
			return fmt.Errorf("unknown smoothing config %d, fell back to 0", req.ID)
		}
		return nil
	case "pause":
		on, err := parseSwitch(payload)
		if err != nil {
			return err
		}
		b.eng.SetPause(on)
		return nil
	}
	return fmt.Errorf("%w: smoothing/%s", ErrUnknownTopic, name)
}

func parseSwitch(payload []byte) (bool, error) {
	s := strings.ToLower(strings.TrimSpace(string(payload)))
	switch s {
	case "on", "active", "enable":
		return true, nil
	case "off", "inactive", "disable":
		return false, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("switch payload %q: want on/off or a bool", s)
	}
	return v, nil
}

func (b *Bridge) connected() bool {
	return b.client != nil && b.client.IsConnected()
}

func (b *Bridge) publishStatus() {
	if !b.connected() {
		return
	}
	body, err := json.Marshal(map[string]any{
		"stats":    b.eng.Snapshot(),
		"settings": b.eng.Settings(),
	})
	if err != nil {
		return
	}
	b.client.Publish(b.topic("status"), b.opts.QoS, true, body)
}

// Diag is a diagnostics.Sink publishing to <prefix>/diag without waiting
// for the broker.
func (b *Bridge) Diag(d diagnostics.Diagnostic) {
	if !b.connected() {
		return
	}
	body, err := json.Marshal(d)
	if err != nil {
		return
	}
	b.client.Publish(b.topic("diag"), b.opts.QoS, false, body)
}

func (b *Bridge) Close() {
	if b.client == nil {
		return
	}
	if b.client.IsConnected() {
		b.client.Unsubscribe(b.topic("smoothing", "+"), b.topic("component", "+")).WaitTimeout(time.Second)
	}
	b.client.Disconnect(250)
	b.log.Info().Msg("mqtt control stopped")
}
