// Command oscstack runs the tagged OSC dispatch stack over UDP, a pcap
// capture or a SLIP serial line.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/oscstack/internal/config"
	"github.com/banshee-data/oscstack/internal/dispatch"
	"github.com/banshee-data/oscstack/internal/monitoring"
	"github.com/banshee-data/oscstack/internal/network"
	"github.com/banshee-data/oscstack/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries what every subcommand shares once the config is loaded.
type app struct {
	configPath string
	cfg        *config.Config
	log        *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "oscstack",
		Short: "Dispatch tagged OSC bundles to handlers",
		Long: `oscstack receives OSC packets and routes messages by address and tagged
bundles by tag. Bundles whose tag is funneled are unpacked and each content
packet is routed on its own.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a .json or .toml config file")

	root.AddCommand(
		newListenCmd(a),
		newReplayCmd(a),
		newSerialCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads configuration and installs the logger.
func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	log, err := monitoring.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialise logger: %w", err)
	}
	slog.SetDefault(log)
	monitoring.SetLogger(log)

	a.cfg = cfg
	a.log = log.With("component", "cmd")
	a.log.Info("starting", "version", version.String())
	return nil
}

// newStack builds a dispatch stack from the loaded config with the
// mirror forwarder attached and the built-in handlers registered.
func (a *app) newStack() (*dispatch.Stack, *network.PacketForwarder, error) {
	dcfg, err := dispatch.ConfigFrom(a.cfg)
	if err != nil {
		return nil, nil, err
	}
	stats := monitoring.NewStats()
	dcfg.Stats = stats
	dcfg.Logger = slog.Default()

	var fwd *network.PacketForwarder
	if a.cfg.MirrorAddress != "" {
		fwd, err = network.NewPacketForwarder(a.cfg.MirrorAddress, stats, slog.Default(), dcfg.StatsInterval)
		if err != nil {
			return nil, nil, err
		}
		dcfg.Forwarder = fwd
	}

	stack := dispatch.New(dcfg)
	if err := registerHandlers(stack, slog.Default()); err != nil {
		if fwd != nil {
			fwd.Close()
		}
		return nil, nil, err
	}
	return stack, fwd, nil
}

// serve runs the stack with src (nil means the configured UDP listener),
// plus the admin server when configured, until interrupted or src ends.
func (a *app) serve(ctx context.Context, stack *dispatch.Stack, fwd *network.PacketForwarder, src network.Source) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if fwd != nil {
		defer fwd.Close()
	}

	var wg sync.WaitGroup
	if a.cfg.AdminListen != "" {
		ln, err := net.Listen("tcp", a.cfg.AdminListen)
		if err != nil {
			return fmt.Errorf("failed to listen for admin server: %w", err)
		}
		adminCtx, stopAdmin := context.WithCancel(ctx)
		defer func() {
			stopAdmin()
			wg.Wait()
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.runAdmin(adminCtx, ln, stack)
		}()
	}

	var err error
	if src == nil {
		err = stack.Run(ctx)
	} else {
		err = stack.Serve(ctx, src)
	}
	if err != nil {
		return err
	}
	a.log.Info("shutdown complete")
	return nil
}

func (a *app) runAdmin(ctx context.Context, ln net.Listener, stack *dispatch.Stack) {
	mux := http.NewServeMux()
	monitoring.AttachAdminRoutes(mux, stack.Stats(), func() any { return stack.Routes() })
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("admin server failed", "error", err)
		}
	}()
	a.log.Info("admin server listening", "address", ln.Addr().String())

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("admin server shutdown error", "error", err)
		server.Close()
	}
}
