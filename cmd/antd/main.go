// Command antd runs an ANT USB stick and serves it over HTTP.
//
// Usage:
//
//	antd [-config antd.yaml] [-v]
//
// Settings come from the YAML file, a .env file in the working directory
// and ANT_* environment variables. With driver "sim" the daemon runs
// against a simulated stick carrying a heart rate monitor and a trainer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/ardnew/softant/config"
	"github.com/ardnew/softant/driver"
	"github.com/ardnew/softant/driver/gousb"
	"github.com/ardnew/softant/driver/serial"
	"github.com/ardnew/softant/driver/sim"
	"github.com/ardnew/softant/driver/usbfs"
	"github.com/ardnew/softant/node"
	"github.com/ardnew/softant/pkg"
	"github.com/ardnew/softant/profile"
	"github.com/ardnew/softant/server"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	if err := run(*configPath, *verbose); err != nil {
		pkg.LogError(pkg.ComponentNode, "antd failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level, _ := pkg.ParseLogLevel(cfg.LogLevel)
	if verbose {
		level = slog.LevelDebug
	}
	pkg.SetLogLevel(level)
	pkg.SetLogFormat(pkg.ParseLogFormat(cfg.LogFormat))

	drv, err := openDriver(cfg)
	if err != nil {
		return err
	}
	opts, err := cfg.NodeOptions()
	if err != nil {
		return err
	}

	n := node.New(drv, opts...)
	broker := server.NewBroker(server.DefaultCapacity)
	defer broker.Close()

	// A lost device ends the process so the supervisor can restart it.
	fatal := make(chan error, 1)
	onFailure := func(err error) {
		broker.OnFailure(err)
		if errors.Is(err, pkg.ErrDriver) {
			select {
			case fatal <- err:
			default:
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := n.Start(ctx, broker.OnSuccess, onFailure); err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	caps := n.Capabilities()
	pkg.LogInfo(pkg.ComponentNode, "ANT stick ready",
		"driver", cfg.Driver,
		"serial", n.SerialNumber(),
		"channels", caps.MaxChannels,
		"networks", caps.MaxNetworks)

	openChannels(ctx, n, cfg.Channels)

	srvOpts := []server.Option{server.WithTxAttempts(cfg.TxAttempts)}
	if cfg.Profiler {
		srvOpts = append(srvOpts, server.WithProfiler())
	}
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      server.New(n, broker, srvOpts...),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		pkg.LogInfo(pkg.ComponentServer, "listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	notify(daemon.SdNotifyReady)
	go watchdog(ctx, n)

	var runErr error
	select {
	case <-ctx.Done():
		pkg.LogInfo(pkg.ComponentNode, "shutting down")
	case err := <-fatal:
		runErr = fmt.Errorf("device lost: %w", err)
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	}
	notify(daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		pkg.LogWarn(pkg.ComponentServer, "http shutdown", "error", err)
	}
	if err := n.Stop(shutdownCtx); err != nil {
		pkg.LogWarn(pkg.ComponentNode, "node stop", "error", err)
	}
	pkg.LogInfo(pkg.ComponentNode, "stopped")
	return runErr
}

func openDriver(cfg config.Config) (driver.Driver, error) {
	var open driver.OpenFunc
	switch cfg.Driver {
	case config.DriverGousb:
		open = gousb.Opener(uint16(cfg.VID), uint16(cfg.PID))
	case config.DriverUsbfs:
		open = usbfs.Opener(uint16(cfg.VID), uint16(cfg.PID))
	case config.DriverSerial:
		open = serial.Opener(cfg.SerialPort, cfg.Baud)
	case config.DriverSim:
		st := sim.New(
			sim.WithSensor(sim.Sensor{DeviceNumber: 1, DeviceType: profile.DeviceTypeHR, TransType: 1}),
			sim.WithSensor(sim.Sensor{DeviceNumber: 2, DeviceType: profile.DeviceTypeFEC, TransType: 5}),
			sim.WithSearch(time.Second, 30*time.Second),
			sim.WithBroadcastInterval(250*time.Millisecond),
		)
		open = st.Open
	default:
		return nil, fmt.Errorf("%w: driver %q", pkg.ErrInvalidParameter, cfg.Driver)
	}
	return driver.NewStream(cfg.Driver, open), nil
}

func openChannels(ctx context.Context, n *node.Node, channels []config.Channel) {
	for _, c := range channels {
		p, err := profile.Lookup(c.Profile)
		if err != nil {
			pkg.LogWarn(pkg.ComponentNode, "skipping channel", "channel", c.Number, "error", err)
			continue
		}
		if _, err := n.OpenChannel(ctx, c.Number, p, c.DeviceNumber); err != nil {
			pkg.LogWarn(pkg.ComponentNode, "open channel failed",
				"channel", c.Number, "profile", p.Name, "error", err)
			continue
		}
		pkg.LogInfo(pkg.ComponentNode, "channel searching",
			"channel", c.Number, "profile", p.Name, "device_number", c.DeviceNumber)
	}
}

func notify(state string) {
	if ok, err := daemon.SdNotify(false, state); err != nil {
		pkg.LogWarn(pkg.ComponentNode, "systemd notify", "state", state, "error", err)
	} else if ok {
		pkg.LogDebug(pkg.ComponentNode, "systemd notified", "state", state)
	}
}

// watchdog pets the systemd watchdog while the node runs.
func watchdog(ctx context.Context, n *node.Node) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n.IsRunning() {
				notify(daemon.SdNotifyWatchdog)
			}
		}
	}
}
