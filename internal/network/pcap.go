package network

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/oscstack/internal/monitoring"
	"github.com/banshee-data/oscstack/internal/timeutil"
)

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// PCAPReplayConfig configures a PCAPReplay.
type PCAPReplayConfig struct {
	Path string
	// Port selects UDP datagrams sent to this destination port. Zero
	// replays every UDP payload in the capture.
	Port int
	// Speed scales the capture's inter-packet gaps: 1 replays in real time,
	// 2 at double speed. Zero replays as fast as possible.
	Speed           float64
	MaxDatagramSize int
	Stats           Stats
	Forwarder       *PacketForwarder
	Logger          *slog.Logger
	Clock           timeutil.Clock
}

// PCAPReplay feeds the UDP payloads of a pcap or pcapng capture to a
// DatagramHandler, as if they had arrived on a socket.
type PCAPReplay struct {
	cfg   PCAPReplayConfig
	stats Stats
	clock timeutil.Clock
	log   *slog.Logger
}

// NewPCAPReplay creates a replay source for cfg.Path.
func NewPCAPReplay(cfg PCAPReplayConfig) *PCAPReplay {
	var stats Stats = noopStats{}
	if cfg.Stats != nil {
		stats = cfg.Stats
	}
	if cfg.MaxDatagramSize <= 0 {
		cfg.MaxDatagramSize = DefaultMaxDatagramSize
	}
	log := cfg.Logger
	if log == nil {
		log = monitoring.Logger()
	}
	return &PCAPReplay{
		cfg:   cfg,
		stats: stats,
		clock: timeutil.Or(cfg.Clock),
		log:   log.With("component", "pcap", "file", cfg.Path),
	}
}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

func openCapture(r io.Reader) (packetReader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}
	if bytes.Equal(magic, pcapngMagic) {
		return pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(br)
}

// Serve replays the capture. It returns nil at end of file and ctx.Err()
// if cancelled part way.
func (p *PCAPReplay) Serve(ctx context.Context, h DatagramHandler) error {
	f, err := os.Open(p.cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", p.cfg.Path, err)
	}
	defer f.Close()

	r, err := openCapture(f)
	if err != nil {
		return fmt.Errorf("failed to read PCAP file %s: %w", p.cfg.Path, err)
	}

	if p.cfg.Forwarder != nil {
		p.cfg.Forwarder.Start(ctx)
	}

	p.log.Info("PCAP replay started", "port", p.cfg.Port, "speed", p.cfg.Speed)

	var (
		count, skipped int
		start          = p.clock.Now()
		lastCapture    time.Time
	)
	for {
		if err := ctx.Err(); err != nil {
			p.log.Info("PCAP replay cancelled", "datagrams", count)
			return err
		}

		data, ci, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			p.log.Info("PCAP replay complete", "datagrams", count, "skipped", skipped, "elapsed", p.clock.Since(start))
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read packet %d: %w", count+skipped+1, err)
		}

		pkt := gopacket.NewPacket(data, r.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || (p.cfg.Port != 0 && int(udp.DstPort) != p.cfg.Port) || len(udp.Payload) == 0 {
			skipped++
			continue
		}

		if p.cfg.Speed > 0 {
			if !lastCapture.IsZero() {
				if gap := time.Duration(float64(ci.Timestamp.Sub(lastCapture)) / p.cfg.Speed); gap > 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-p.clock.After(gap):
					}
				}
			}
			lastCapture = ci.Timestamp
		}

		payload := udp.Payload
		if len(payload) > p.cfg.MaxDatagramSize {
			p.stats.AddOversize()
			p.log.Warn("dropping datagram", "error", ErrDatagramTooLarge, "size", len(payload))
			continue
		}

		count++
		p.stats.AddDatagram(len(payload))
		if p.cfg.Forwarder != nil {
			p.cfg.Forwarder.ForwardAsync(payload)
		}
		h.HandleDatagram(payload, sourceAddr(pkt, udp))
	}
}

func sourceAddr(pkt gopacket.Packet, udp *layers.UDP) net.Addr {
	addr := &net.UDPAddr{Port: int(udp.SrcPort)}
	switch ip := pkt.NetworkLayer().(type) {
	case *layers.IPv4:
		addr.IP = ip.SrcIP
	case *layers.IPv6:
		addr.IP = ip.SrcIP
	}
	return addr
}
