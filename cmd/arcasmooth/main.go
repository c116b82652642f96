package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/arcasmooth/internal/config"
	"github.com/coreman2200/arcasmooth/internal/control"
	"github.com/coreman2200/arcasmooth/internal/diagnostics"
	"github.com/coreman2200/arcasmooth/internal/layout"
	"github.com/coreman2200/arcasmooth/internal/led"
	"github.com/coreman2200/arcasmooth/internal/pattern"
	"github.com/coreman2200/arcasmooth/internal/rgb"
	"github.com/coreman2200/arcasmooth/internal/smoothing"
	"github.com/coreman2200/arcasmooth/internal/ws"
)

func main() {
	// ---- Flags (remain usable; config.yaml can override most) ----
	var (
		leds       = flag.Int("leds", 0, "strip length; overrides -x/-y/-z when > 0")
		x          = flag.Int("x", 5, "LEDs per row (X)")
		y          = flag.Int("y", 26, "LED rows per panel (Y)")
		z          = flag.Int("z", 5, "Panels/depth (Z)")
		xFlip      = flag.Bool("x-flip-every-row", true, "serpentine: flip every row along X")
		yFlip      = flag.Bool("y-flip-every-panel", true, "serpentine: flip every panel along Y")
		driver     = flag.String("driver", "sim", "driver: spi | sim")
		colorOrder = flag.String("color", "GRB", "LED color order (e.g. GRB, RGB)")
		spiPort    = flag.String("spi-port", "/dev/spidev0.0", "SPI port name for the spi driver")
		spiSpeed   = flag.Int("spi-speed-hz", 2_400_000, "SPI clock for WS2812 encoding")
		settling   = flag.Int("settling-ms", int(smoothing.DefaultSettlingTime/time.Millisecond), "smoothing settling time")
		freq       = flag.Float64("update-hz", 40, "smoothing output frequency")
		patternArg = flag.String("pattern", "none", "built-in producer: none | rainbow | index_sweep | rgb_channels | plane_z")
		patternFPS = flag.Float64("pattern-fps", 15, "built-in producer frame rate")
		broker     = flag.String("mqtt-broker", "", "MQTT broker URL (tcp://host:1883); empty disables")
		addr       = flag.String("addr", ":8080", "HTTP listen address")
		configPath = flag.String("config", "config.yaml", "path to config.yaml")
		logLevel   = flag.String("log-level", "info", "trace | debug | info | warn | error")
	)
	flag.Parse()

	// ---- Logging ----
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	if lvl, err := zerolog.ParseLevel(*logLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		log.Warn().Str("level", *logLevel).Msg("unknown log level; using info")
	}

	// ---- Load config.yaml (optional) ----
	cfg := &config.Config{}
	loaded := false
	if c, err := config.Load(*configPath); err != nil {
		log.Warn().Err(err).Str("path", *configPath).Msg("config load failed; proceeding with flags")
	} else {
		cfg, loaded = c, true
	}

	// ---- Effective params (config overrides flags where available) ----
	cfg.Driver = firstNonEmpty(cfg.Driver, *driver)
	cfg.ColorOrder = firstNonEmpty(cfg.ColorOrder, *colorOrder)
	cfg.Addr = firstNonEmpty(cfg.Addr, *addr)
	if cfg.LEDs == 0 && cfg.Dim == (config.Dim{}) {
		cfg.LEDs = *leds
		cfg.Dim = config.Dim{X: *x, Y: *y, Z: *z}
		cfg.XFlipEveryRow, cfg.YFlipEveryPanel = *xFlip, *yFlip
	}
	cfg.SPI.Port = firstNonEmpty(cfg.SPI.Port, *spiPort)
	if cfg.SPI.SpeedHz == 0 {
		cfg.SPI.SpeedHz = *spiSpeed
	}
	cfg.MQTT.Broker = firstNonEmpty(cfg.MQTT.Broker, *broker)
	cfg.Pattern.Name = firstNonEmpty(cfg.Pattern.Name, *patternArg)
	cfg.Pattern.FPS = firstNonZeroFloat(cfg.Pattern.FPS, *patternFPS)
	if !loaded {
		cfg.Smoothing = smoothing.DefaultSettings()
		cfg.Smoothing.SettlingTimeMs = *settling
		cfg.Smoothing.UpdateFrequencyHz = *freq
	}

	// ---- Build layout ----
	l := layout.Strip(cfg.LEDs)
	if cfg.LEDs == 0 {
		l = layout.Layout{
			Dim:   layout.Dim{X: cfg.Dim.X, Y: cfg.Dim.Y, Z: cfg.Dim.Z},
			Order: layout.Serpentine{XFlipEveryRow: cfg.XFlipEveryRow, YFlipEveryPanel: cfg.YFlipEveryPanel},
		}
	}
	if l.Count() <= 0 {
		log.Fatal().Int("count", l.Count()).Msg("LED count must be positive")
	}

	// ---- Driver selection ----
	var drv led.Driver
	switch cfg.Driver {
	case "sim":
		drv = led.NewSim(l.Count())
	case "spi":
		spi, err := led.OpenSPI(led.SPIOptions{
			Port:       cfg.SPI.Port,
			Count:      l.Count(),
			ColorOrder: cfg.ColorOrder,
			SpeedHz:    cfg.SPI.SpeedHz,
			ResetUs:    cfg.SPI.ResetUs,
		})
		if err != nil {
			log.Warn().Err(err).
				Str("driver", "spi").
				Str("port", cfg.SPI.Port).
				Int("speed_hz", cfg.SPI.SpeedHz).
				Msg("SPI init failed; falling back to SIM")
			cfg.Driver = "sim"
			drv = led.NewSim(l.Count())
		} else {
			drv = spi
		}
	default:
		log.Warn().Str("driver", cfg.Driver).Msg("unknown driver; using SIM")
		cfg.Driver = "sim"
		drv = led.NewSim(l.Count())
	}

	// ---- Engine, preview and diagnostics fan-out ----
	var sinks []diagnostics.Sink
	fanout := func(d diagnostics.Diagnostic) {
		for _, s := range sinks {
			s.Emit(d)
		}
	}
	var server *ws.Server
	device := led.Tee{led.Output{Driver: drv}, smoothing.DeviceFunc(func(f rgb.Frame) error { return server.Write(f) })}
	engine := smoothing.New(device,
		smoothing.WithDiagnostics(fanout),
		smoothing.WithWatchdogTicks(cfg.WatchdogTicks))

	server = ws.NewServer(engine, l, cfg.Driver)
	server.ConfigPath = *configPath
	server.Base = cfg
	sinks = append(sinks, server.Diag)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var bridge *control.Bridge
	if cfg.MQTT.Broker != "" {
		bridge = control.New(engine, control.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Prefix:   cfg.MQTT.TopicPrefix,
			QoS:      cfg.MQTT.QoS,
		})
		sinks = append(sinks, bridge.Diag)
		if err := bridge.Connect(ctx); err != nil {
			log.Warn().Err(err).Msg("mqtt control unavailable at startup")
		}
	}

	registerProfiles(engine, cfg)
	if err := engine.ApplySettings(cfg.Smoothing); err != nil {
		log.Error().Err(err).Msg("smoothing settings rejected; using defaults")
		if err := engine.ApplySettings(smoothing.DefaultSettings()); err != nil {
			log.Fatal().Err(err).Msg("default smoothing settings")
		}
	}

	// ---- HTTP routes ----
	mux := http.NewServeMux()
	server.Routes(mux)
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      withCORS(mux),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go server.Run(ctx)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("driver", cfg.Driver).Int("leds", l.Count()).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server crashed")
		}
	}()

	// ---- Built-in producer ----
	producerDone := make(chan struct{})
	go func() {
		defer close(producerDone)
		kind, err := pattern.ParseKind(cfg.Pattern.Name)
		if err != nil {
			log.Warn().Err(err).Msg("pattern disabled")
			return
		}
		if err := pattern.NewRunner(kind, l).Run(ctx, cfg.Pattern.FPS, engine.Ingest); err != nil {
			log.Warn().Err(err).Msg("pattern producer stopped")
		}
	}()

	// ---- Graceful shutdown ----
	<-ctx.Done()
	log.Info().Msg("shutting down")

	<-producerDone
	if bridge != nil {
		bridge.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = engine.Close()
	if err := drv.Close(); err != nil {
		log.Warn().Err(err).Msg("driver close")
	}
}

// registerProfiles adds the YAML profiles after config 0 and selects the
// active one by name.
func registerProfiles(e *smoothing.Engine, cfg *config.Config) {
	for _, p := range cfg.Profiles {
		c, ok := smoothing.NewConfig(p.SettlingMs, p.FrequencyHz, p.Direct)
		if !ok {
			log.Warn().Str("profile", p.Name).Float64("frequency_hz", p.FrequencyHz).Msg("profile skipped: invalid frequency")
			continue
		}
		c.Pause = p.Pause
		id := e.AddFullConfig(c)
		log.Info().Str("profile", p.Name).Int("id", id).Msg("smoothing profile registered")
		if p.Name == cfg.ActiveProfile {
			e.SelectConfig(id, false)
		}
	}
}

func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func firstNonEmpty(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func firstNonZeroFloat(v, fallback float64) float64 {
	if v != 0 {
		return v
	}
	return fallback
}
