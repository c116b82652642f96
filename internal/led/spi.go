package led

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

var ErrClosed = errors.New("led driver closed")

// SPIOptions configures a WS2812 strip driven from an SPI MOSI pin.
type SPIOptions struct {
	// Port is a spireg name such as "/dev/spidev0.0" or "SPI0.0"; empty picks
	// the first registered port.
	Port  string
	Count int
	// ColorOrder like "GRB" (default) or "RGB".
	ColorOrder string
	// SpeedHz in the 2.4–3.2 MHz range suits the 3x bit expansion.
	SpeedHz int
	// ResetUs is the latch time, usually >= 280.
	ResetUs int
}

func (o *SPIOptions) defaults() {
	if o.SpeedHz <= 0 {
		o.SpeedHz = 2_400_000
	}
	if o.ResetUs <= 0 {
		o.ResetUs = 300
	}
}

type SPI struct {
	mu    sync.Mutex
	port  spi.PortCloser
	conn  spi.Conn
	enc   *Encoder
	count int
	buf   []byte
	log   zerolog.Logger
}

// OpenSPI initializes the periph host drivers and opens the named port.
func OpenSPI(o SPIOptions) (*SPI, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	p, err := spireg.Open(o.Port)
	if err != nil {
		return nil, fmt.Errorf("open spi port %q: %w", o.Port, err)
	}
	s, err := NewSPI(p, o)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	return s, nil
}

// NewSPI connects an already opened port in mode 0, 8 bits per word.
func NewSPI(p spi.PortCloser, o SPIOptions) (*SPI, error) {
	if o.Count <= 0 {
		return nil, fmt.Errorf("invalid LED count: %d", o.Count)
	}
	o.defaults()
	enc, err := NewEncoder(o.ColorOrder, o.SpeedHz, o.ResetUs)
	if err != nil {
		return nil, err
	}
	c, err := p.Connect(physic.Frequency(o.SpeedHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("spi connect: %w", err)
	}
	s := &SPI{
		port:  p,
		conn:  c,
		enc:   enc,
		count: o.Count,
		buf:   make([]byte, enc.EncodedLen(o.Count)),
		log:   log.With().Str("component", "spi").Str("port", o.Port).Logger(),
	}
	s.log.Info().Int("leds", o.Count).Int("speed_hz", o.SpeedHz).Msg("ws2812 spi ready")
	return s, nil
}

// Write encodes rgb (len 3*count) and sends it with the latch tail in one
// transaction.
func (s *SPI) Write(rgb []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrClosed
	}
	if len(rgb) != s.count*3 {
		return fmt.Errorf("rgb length %d does not match count %d", len(rgb), s.count)
	}
	s.buf = s.enc.Encode(s.buf, rgb)
	if err := s.conn.Tx(s.buf, nil); err != nil {
		return fmt.Errorf("spi write: %w", err)
	}
	return nil
}

func (s *SPI) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	s.conn = nil
	return s.port.Close()
}
