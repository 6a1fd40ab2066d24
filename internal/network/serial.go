package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/oscstack/internal/monitoring"
)

// SerialOpener opens a serial device. The default is go.bug.st/serial.
type SerialOpener func(path string, mode *serial.Mode) (io.ReadCloser, error)

// OpenSerialPort opens a real serial device.
func OpenSerialPort(path string, mode *serial.Mode) (io.ReadCloser, error) {
	return serial.Open(path, mode)
}

// SerialAddr identifies datagrams that arrived over a serial line.
type SerialAddr string

func (a SerialAddr) Network() string { return "serial" }
func (a SerialAddr) String() string  { return string(a) }

var _ net.Addr = SerialAddr("")

// SerialSourceConfig configures a SerialSource.
type SerialSourceConfig struct {
	Port            string
	BaudRate        int
	MaxDatagramSize int
	Stats           Stats
	Opener          SerialOpener
	Logger          *slog.Logger
}

// SerialSource reads SLIP-framed OSC packets from a serial device.
type SerialSource struct {
	cfg   SerialSourceConfig
	stats Stats
	log   *slog.Logger
	warn  *monitoring.Throttle
}

// NewSerialSource creates a source for cfg.Port. Nothing is opened until
// Serve.
func NewSerialSource(cfg SerialSourceConfig) *SerialSource {
	var stats Stats = noopStats{}
	if cfg.Stats != nil {
		stats = cfg.Stats
	}
	if cfg.MaxDatagramSize <= 0 {
		cfg.MaxDatagramSize = DefaultMaxDatagramSize
	}
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = 115200
	}
	if cfg.Opener == nil {
		cfg.Opener = OpenSerialPort
	}
	log := cfg.Logger
	if log == nil {
		log = monitoring.Logger()
	}
	return &SerialSource{
		cfg:   cfg,
		stats: stats,
		log:   log.With("component", "serial", "port", cfg.Port),
		warn:  monitoring.NewThrottle(10 * time.Second),
	}
}

// Serve reads frames until ctx is cancelled or the device reports EOF.
func (s *SerialSource) Serve(ctx context.Context, h DatagramHandler) error {
	mode := &serial.Mode{
		BaudRate: s.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := s.cfg.Opener(s.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.cfg.Port, err)
	}

	var closeOnce sync.Once
	closePort := func() { closeOnce.Do(func() { port.Close() }) }
	defer closePort()

	// Closing the port is the only way to interrupt a blocked Read.
	stop := context.AfterFunc(ctx, closePort)
	defer stop()

	s.log.Info("serial source started", "baud_rate", s.cfg.BaudRate)

	from := SerialAddr(s.cfg.Port)
	frames := NewSLIPReader(port, s.cfg.MaxDatagramSize)
	for {
		frame, err := frames.ReadFrame()
		switch {
		case err == nil:
			s.stats.AddDatagram(len(frame))
			h.HandleDatagram(frame, from)
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, io.EOF):
			s.log.Info("serial source closed")
			return nil
		case errors.Is(err, ErrDatagramTooLarge):
			s.stats.AddOversize()
			s.warn.Do(func(suppressed int64) {
				s.log.Warn("dropping frame", "error", err, "max", s.cfg.MaxDatagramSize, "suppressed", suppressed)
			})
		case errors.Is(err, ErrSLIPEscape):
			s.stats.AddReceiveError()
			s.warn.Do(func(suppressed int64) {
				s.log.Warn("dropping frame", "error", err, "suppressed", suppressed)
			})
		default:
			return fmt.Errorf("serial read failed: %w", err)
		}
	}
}
