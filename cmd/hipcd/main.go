package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	systemd "github.com/coreos/go-systemd/v22/daemon"
	"github.com/pkg/profile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/urfave/cli"

	"github.com/hipc-systems/hipc-core/domain"
	"github.com/hipc-systems/hipc-core/htclow"
	"github.com/hipc-systems/hipc-core/htclow/ctrl"
	"github.com/hipc-systems/hipc-core/pm"
	"github.com/hipc-systems/hipc-core/spl"
)

const usage = `hipcd service framework daemon

hipcd listens for an HTC host connection, drives the control-service
handshake and data channel multiplexer against it, and runs the process
lifecycle tracker and keyslot arbitration services a CMIF service stack
is built against.
`

var (
	version  string
	commitID string
	builtAt  string
)

// exitHandler performs graceful shutdown on a caught signal: notify
// systemd we're stopping, cancel every worker's context, stop whatever
// profiling run is active, and exit.
func exitHandler(signalChan chan os.Signal, cancel context.CancelFunc, prof interface{ Stop() }) {
	var printStack bool

	s := <-signalChan
	logrus.Warnf("hipcd caught signal: %s", s)
	logrus.Info("stopping (gracefully) ...")

	systemd.SdNotify(false, systemd.SdNotifyStopping)

	switch s {
	case syscall.SIGABRT, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGSEGV:
		printStack = true
	}
	if printStack {
		stacktrace := make([]byte, 32768)
		length := runtime.Stack(stacktrace, true)
		logrus.Warnf("\n\n%s\n", string(stacktrace[:length]))
	}

	cancel()
	if prof != nil {
		prof.Stop()
	}

	time.Sleep(100 * time.Millisecond)
	logrus.Info("exiting ...")
	os.Exit(0)
}

func runProfiler(ctx *cli.Context) interface{ Stop() } {
	if !ctx.Bool("profile") {
		return nil
	}
	return profile.Start(
		profile.CPUProfile,
		profile.ProfilePath("."),
		profile.NoShutdownHook,
	)
}

func loadConfig(ctx *cli.Context) error {
	if path := ctx.GlobalString("config"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %s: %w", path, err)
		}
	}
	viper.SetDefault("listen", ctx.GlobalString("listen"))
	viper.SetDefault("mem-total", ctx.GlobalUint64("mem-total"))
	viper.SetDefault("mem-system", ctx.GlobalUint64("mem-system"))
	viper.SetDefault("mem-application", ctx.GlobalUint64("mem-application"))
	viper.SetDefault("physical-keyslots", ctx.GlobalInt("physical-keyslots"))
	viper.SetDefault("metrics-listen", ctx.GlobalString("metrics-listen"))
	viper.SetDefault("launch-path", ctx.GlobalString("launch-path"))
	viper.SetDefault("launch-args", ctx.GlobalStringSlice("launch-args"))
	viper.SetDefault("launch-boost-system", ctx.GlobalUint64("launch-boost-system"))
	viper.SetDefault("launch-boost-mitm", ctx.GlobalUint64("launch-boost-mitm"))
	return nil
}

// selfCheckKeyslots exercises the keyslot cache once at startup: a
// round-trip Allocate/Release under a sentinel owner catches a
// misconfigured physical-keyslots count before any real session ever
// reaches the cache.
func selfCheckKeyslots(cache *spl.Cache) error {
	owner := new(struct{})
	if _, err := cache.Allocate(0, owner); err != nil {
		return err
	}
	return cache.Release(0, owner)
}

// launchProgramOnStartup runs one pm.LaunchProgram in the background
// against path/args, with the configured launch-boost-system and
// launch-boost-mitm amounts; it logs the
// outcome instead of failing daemon startup, since an optional
// configured launch target should never block the HTC listener from
// coming up.
func launchProgramOnStartup(ctx context.Context, tracker *pm.Tracker, pool *pm.ResourcePool, path string, args []string) {
	go func() {
		req := pm.LaunchRequest{
			SystemBoost: viper.GetUint64("launch-boost-system"),
			MitmBoost:   viper.GetUint64("launch-boost-mitm"),
			Flags:       domain.FlagSignalOnExit,
		}
		pi, err := pm.LaunchProgram(ctx, tracker, pool, pm.NewOSCreateProcessFunc(path, args...), req)
		if err != nil {
			logrus.WithError(err).WithField("path", path).Warn("hipcd: launch-path program failed to launch")
			return
		}
		logrus.WithField("process_id", pi.ProcessID).Info("hipcd: launch-path program launched")
	}()
}

func setupLogging(ctx *cli.Context) {
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FullTimestamp:   true,
	})
	switch ctx.GlobalString("log-level") {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}

func serveMetrics(reg *prometheus.Registry, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logrus.WithError(err).Warn("hipcd: metrics server exited")
		}
	}()
}

func runDaemon(cliCtx *cli.Context) error {
	logrus.Info("starting hipcd ...")

	if err := loadConfig(cliCtx); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	htclowMetrics := htclow.NewMetrics(reg)
	pmMetrics := pm.NewMetrics(reg)
	serveMetrics(reg, viper.GetString("metrics-listen"))

	pool, err := pm.NewResourcePool(
		viper.GetUint64("mem-total"),
		viper.GetUint64("mem-system"),
		viper.GetUint64("mem-application"),
	)
	if err != nil {
		return fmt.Errorf("setting up resource pool: %w", err)
	}

	physCount := viper.GetInt("physical-keyslots")
	if physCount <= 0 {
		physCount = 4
	}
	physSlots := make([]spl.PhysicalSlot, physCount)
	for i := range physSlots {
		physSlots[i] = spl.PhysicalSlot(i)
	}
	keyslots := spl.NewCache(physSlots)
	if err := selfCheckKeyslots(keyslots); err != nil {
		return fmt.Errorf("keyslot cache self-check: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	tracker := pm.NewTracker(domain.FwVer5_0_0, pmMetrics)
	tracker.Start(ctx)

	if launchPath := viper.GetString("launch-path"); launchPath != "" {
		launchProgramOnStartup(ctx, tracker, pool, launchPath, viper.GetStringSlice("launch-args"))
	}

	ln, err := net.Listen("tcp", viper.GetString("listen"))
	if err != nil {
		cancel()
		return fmt.Errorf("listening on %s: %w", viper.GetString("listen"), err)
	}
	logrus.Infof("listening for HTC host connections on %s", ln.Addr())

	driver := htclow.NewTCPDriver(ln, 0x3E000)
	svc := ctrl.NewService(ctrl.Beacon{
		Spec: "nx",
		Conn: "tcp",
		HW:   "generic",
		Name: "hipcd",
		SN:   "0",
		FW:   version,
		Prot: ctrl.OurProtocolVersion,
	}, nil)
	mux := htclow.NewMux(0x3E000, htclowMetrics)
	mgr := htclow.NewManager(driver, svc, mux, htclowMetrics)
	mgr.Start(ctx)

	prof := runProfiler(cliCtx)

	exitChan := make(chan os.Signal, 1)
	signal.Notify(exitChan, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGSEGV, syscall.SIGQUIT)
	go exitHandler(exitChan, func() {
		cancel()
		tracker.Shutdown()
		mgr.Shutdown()
		_ = driver.Close()
	}, prof)

	systemd.SdNotify(false, systemd.SdNotifyReady)
	logrus.Info("ready ...")

	<-ctx.Done()
	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "hipcd"
	app.Usage = usage
	app.Version = version

	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Usage: "path to a YAML/JSON/TOML config file"},
		cli.StringFlag{Name: "listen", Value: ":9999", Usage: "address to listen for an HTC host connection on"},
		cli.StringFlag{Name: "metrics-listen", Value: "", Usage: "address to serve Prometheus metrics on (empty disables it)"},
		cli.Uint64Flag{Name: "mem-total", Value: 0x40000000, Usage: "total memory budget split between system and application pools"},
		cli.Uint64Flag{Name: "mem-system", Value: 0x8000000, Usage: "initial system pool size"},
		cli.Uint64Flag{Name: "mem-application", Value: 0x38000000, Usage: "initial application pool size"},
		cli.IntFlag{Name: "physical-keyslots", Value: 4, Usage: "number of physical keyslots backing the virtual keyslot cache"},
		cli.StringFlag{Name: "launch-path", Value: "", Usage: "optional program to launch through pm.LaunchProgram on startup"},
		cli.StringSliceFlag{Name: "launch-args", Usage: "arguments for -launch-path"},
		cli.Uint64Flag{Name: "launch-boost-system", Value: 0, Usage: "system pool boost reserved for -launch-path"},
		cli.Uint64Flag{Name: "launch-boost-mitm", Value: 0, Usage: "MITM pool boost reserved for -launch-path"},
		cli.BoolFlag{Name: "profile", Usage: "enable cpu-profiling data collection"},
		cli.StringFlag{Name: "log-level", Value: "info", Usage: "log categories to include (debug, info, warning, error)"},
	}

	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("hipcd\n\tversion: \t%s\n\tcommit: \t%s\n\tbuilt at: \t%s\n", c.App.Version, commitID, builtAt)
	}

	app.Before = func(ctx *cli.Context) error {
		setupLogging(ctx)
		return nil
	}

	app.Action = runDaemon

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}
