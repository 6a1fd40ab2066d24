package network

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/oscstack/internal/timeutil"
)

type capturedUDP struct {
	at      time.Time
	dstPort uint16
	payload []byte
}

func udpFrame(t *testing.T, c capturedUDP) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(192, 168, 1, 20).To4(),
		DstIP:    net.IPv4(192, 168, 1, 10).To4(),
	}
	udp := &layers.UDP{SrcPort: 57120, DstPort: layers.UDPPort(c.dstPort)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatal(err)
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(c.payload)); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func writePCAP(t *testing.T, packets []capturedUDP) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcap")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatal(err)
	}
	for _, p := range packets {
		frame := udpFrame(t, p)
		ci := gopacket.CaptureInfo{Timestamp: p.at, CaptureLength: len(frame), Length: len(frame)}
		if err := w.WritePacket(ci, frame); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func writePCAPNG(t *testing.T, packets []capturedUDP) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcapng")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w, err := pcapgo.NewNgWriter(f, layers.LinkTypeEthernet)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range packets {
		frame := udpFrame(t, p)
		ci := gopacket.CaptureInfo{Timestamp: p.at, CaptureLength: len(frame), Length: len(frame), InterfaceIndex: 0}
		if err := w.WritePacket(ci, frame); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	return path
}

func sampleCapture() []capturedUDP {
	base := time.Unix(1700000000, 0)
	return []capturedUDP{
		{at: base, dstPort: 7400, payload: []byte("one\x00")},
		{at: base.Add(10 * time.Millisecond), dstPort: 9999, payload: []byte("other")},
		{at: base.Add(20 * time.Millisecond), dstPort: 7400, payload: []byte("two\x00")},
	}
}

func replayAll(t *testing.T, cfg PCAPReplayConfig) ([]received, *recordingStats) {
	t.Helper()
	stats := &recordingStats{}
	cfg.Stats = stats
	h, ch := collector(16)
	if err := NewPCAPReplay(cfg).Serve(context.Background(), h); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	// Handlers run synchronously, so everything is already buffered.
	var got []received
	for len(ch) > 0 {
		got = append(got, <-ch)
	}
	return got, stats
}

func TestPCAPReplay_FiltersPort(t *testing.T) {
	for name, write := range map[string]func(*testing.T, []capturedUDP) string{
		"pcap":   writePCAP,
		"pcapng": writePCAPNG,
	} {
		t.Run(name, func(t *testing.T) {
			path := write(t, sampleCapture())
			got, stats := replayAll(t, PCAPReplayConfig{Path: path, Port: 7400})

			if len(got) != 2 {
				t.Fatalf("replayed %d datagrams, want 2", len(got))
			}
			if string(got[0].data) != "one\x00" || string(got[1].data) != "two\x00" {
				t.Errorf("payloads = %q, %q", got[0].data, got[1].data)
			}
			if got[0].from.String() != "192.168.1.20:57120" {
				t.Errorf("from = %v", got[0].from)
			}
			if stats.datagrams != 2 {
				t.Errorf("stats.datagrams = %d, want 2", stats.datagrams)
			}
		})
	}
}

func TestPCAPReplay_AllPorts(t *testing.T) {
	got, _ := replayAll(t, PCAPReplayConfig{Path: writePCAP(t, sampleCapture())})
	if len(got) != 3 {
		t.Errorf("replayed %d datagrams, want 3", len(got))
	}
}

func TestPCAPReplay_Oversize(t *testing.T) {
	got, stats := replayAll(t, PCAPReplayConfig{Path: writePCAP(t, sampleCapture()), MaxDatagramSize: 4})
	// "other" is 5 bytes.
	if len(got) != 2 || stats.oversize != 1 {
		t.Errorf("delivered %d, oversize %d; want 2 and 1", len(got), stats.oversize)
	}
}

func TestPCAPReplay_Paced(t *testing.T) {
	base := time.Unix(1700000000, 0)
	path := writePCAP(t, []capturedUDP{
		{at: base, dstPort: 7400, payload: []byte("a")},
		{at: base.Add(400 * time.Millisecond), dstPort: 7400, payload: []byte("b")},
	})

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	h, ch := collector(4)
	done := make(chan error, 1)
	go func() {
		done <- NewPCAPReplay(PCAPReplayConfig{Path: path, Speed: 10, Clock: clock}).Serve(context.Background(), h)
	}()

	first := waitFor(t, ch)
	if string(first.data) != "a" {
		t.Fatalf("first datagram = %q, want a", first.data)
	}
	deadline := time.Now().Add(2 * time.Second)
	for clock.Waiters() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("replay never waited for the scaled gap")
		}
		time.Sleep(time.Millisecond)
	}
	if len(ch) != 0 {
		t.Fatal("second datagram delivered before the gap elapsed")
	}

	clock.Advance(39 * time.Millisecond)
	if len(ch) != 0 {
		t.Fatal("second datagram delivered before the 40ms scaled gap")
	}
	clock.Advance(time.Millisecond)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("replay did not finish")
	}
	if second := <-ch; string(second.data) != "b" {
		t.Errorf("second datagram = %q, want b", second.data)
	}
}

func TestPCAPReplay_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewPCAPReplay(PCAPReplayConfig{Path: writePCAP(t, sampleCapture())}).
		Serve(ctx, DatagramHandlerFunc(func([]byte, net.Addr) {}))
	if err != context.Canceled {
		t.Errorf("Serve = %v, want context.Canceled", err)
	}
}

func TestPCAPReplay_BadFiles(t *testing.T) {
	h := DatagramHandlerFunc(func([]byte, net.Addr) {})
	if err := NewPCAPReplay(PCAPReplayConfig{Path: filepath.Join(t.TempDir(), "absent.pcap")}).Serve(context.Background(), h); err == nil {
		t.Error("expected error for missing file")
	}

	junk := filepath.Join(t.TempDir(), "junk.pcap")
	if err := os.WriteFile(junk, []byte("this is not a capture"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := NewPCAPReplay(PCAPReplayConfig{Path: junk}).Serve(context.Background(), h); err == nil {
		t.Error("expected error for junk file")
	}
}
