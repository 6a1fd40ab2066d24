package main

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/banshee-data/oscstack/internal/network"
	"github.com/banshee-data/oscstack/internal/version"
)

func newListenCmd(a *app) *cobra.Command {
	var addr, mirror, admin string
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Receive OSC over UDP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			if addr != "" {
				a.cfg.Listen = addr
			}
			if mirror != "" {
				a.cfg.MirrorAddress = mirror
			}
			if admin != "" {
				a.cfg.AdminListen = admin
			}
			stack, fwd, err := a.newStack()
			if err != nil {
				return err
			}
			return a.serve(cmd.Context(), stack, fwd, nil)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "UDP address to listen on (overrides config)")
	cmd.Flags().StringVar(&mirror, "mirror", "", "UDP address to mirror received datagrams to")
	cmd.Flags().StringVar(&admin, "admin", "", "address for the debug HTTP pages")
	return cmd
}

func newReplayCmd(a *app) *cobra.Command {
	var (
		path  string
		port  int
		speed float64
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Dispatch OSC datagrams captured in a pcap or pcapng file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			if !cmd.Flags().Changed("port") {
				p, err := listenPort(a.cfg.Listen)
				if err != nil {
					return err
				}
				port = p
			}
			stack, fwd, err := a.newStack()
			if err != nil {
				return err
			}
			src := network.NewPCAPReplay(network.PCAPReplayConfig{
				Path:            path,
				Port:            port,
				Speed:           speed,
				MaxDatagramSize: a.cfg.MaxDatagramSize,
				Stats:           stack.Stats(),
				Forwarder:       fwd,
			})
			return a.serve(cmd.Context(), stack, fwd, src)
		},
	}
	cmd.Flags().StringVar(&path, "pcap", "", "capture file to replay")
	cmd.Flags().IntVar(&port, "port", 0, "UDP destination port to replay; 0 replays all (default: the listen port)")
	cmd.Flags().Float64Var(&speed, "speed", 0, "replay pacing relative to capture time, 1 = real time, 0 = as fast as possible")
	cmd.MarkFlagRequired("pcap")
	return cmd
}

func newSerialCmd(a *app) *cobra.Command {
	var (
		port string
		baud int
	)
	cmd := &cobra.Command{
		Use:   "serial",
		Short: "Receive SLIP-framed OSC from a serial device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			if port != "" {
				a.cfg.Serial.Port = port
			}
			if baud > 0 {
				a.cfg.Serial.BaudRate = baud
			}
			if a.cfg.Serial.Port == "" {
				return fmt.Errorf("no serial port given: use --port or serial.port in the config")
			}
			stack, fwd, err := a.newStack()
			if err != nil {
				return err
			}
			src := network.NewSerialSource(network.SerialSourceConfig{
				Port:            a.cfg.Serial.Port,
				BaudRate:        a.cfg.Serial.BaudRate,
				MaxDatagramSize: a.cfg.MaxDatagramSize,
				Stats:           stack.Stats(),
			})
			return a.serve(cmd.Context(), stack, fwd, src)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "serial device, e.g. /dev/ttyUSB0")
	cmd.Flags().IntVar(&baud, "baud", 0, "baud rate (overrides config)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

func listenPort(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return 0, fmt.Errorf("invalid listen port %q: %w", p, err)
	}
	return port, nil
}
