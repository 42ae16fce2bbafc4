package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/oneshot/internal/dialer"
	"github.com/die-net/oneshot/internal/proxy"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		listenAddr   = pflag.String("listen-addr", "", "Address to accept clients on. Empty means all interfaces.")
		listenPort   = pflag.Int("listen-port", proxy.DefaultListenPort, "Port to accept clients on")
		upstreamAddr = pflag.String("upstream-addr", os.Getenv("ONESHOT_UPSTREAM_ADDR"), "Upstream host every session is relayed to (required)")
		upstreamPort = pflag.Int("upstream-port", proxy.DefaultUpstreamPort, "Upstream port")
		bufferSize   = pflag.Int("buffer-size", proxy.DefaultBufferSize, "Maximum bytes per read; longer payloads and replies are truncated")

		via = pflag.String("via", defaultVia(), "Route to the upstream: direct:// | http://[user:pass@]host:port | https://[user:pass@]host:port | socks5://[user:pass@]host:port")

		debugListen        = pflag.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof (e.g. 127.0.0.1:6060). Empty disables.")
		dialTimeout        = pflag.Duration("dial-timeout", 10*time.Second, "Timeout for outbound DNS lookup and TCP connect")
		negotiationTimeout = pflag.Duration("negotiation-timeout", 10*time.Second, "Timeout for the proxy handshake when --via is not direct")
		ioTimeout          = pflag.Duration("io-timeout", 30*time.Second, "Deadline for each read and write of a session. 0 disables.")
		maxSessions        = pflag.Int("max-sessions", 0, "Maximum sessions in flight. 0 means unbounded.")
		stopOnEmpty        = pflag.Bool("stop-on-empty", false, "Stop accepting when a client disconnects without sending data")
		tcpKeepAlive       = pflag.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
		verbose            = pflag.Bool("verbose", false, "Enable per-session debug logging")
	)

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	logger, err := newLogger(*verbose)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ka, err := parseTCPKeepAlive(*tcpKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	d, err := dialer.New(dialer.Config{
		DialTimeout:        *dialTimeout,
		NegotiationTimeout: *negotiationTimeout,
		KeepAlive:          ka,
	}, *via)
	if err != nil {
		return fmt.Errorf("invalid --via: %w", err)
	}

	cfg := proxy.Config{
		ListenAddr:   *listenAddr,
		ListenPort:   *listenPort,
		UpstreamAddr: *upstreamAddr,
		UpstreamPort: *upstreamPort,
		BufferSize:   *bufferSize,
		IOTimeout:    *ioTimeout,
		MaxSessions:  *maxSessions,
		StopOnEmpty:  *stopOnEmpty,
		KeepAlive:    ka,
		Dialer:       d,
		Logger:       logger,
	}

	l, err := proxy.NewListener(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if *debugListen != "" {
		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		lc := net.ListenConfig{KeepAliveConfig: ka}
		debugLn, err := lc.Listen(ctx, "tcp", *debugListen)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		logger.Info("debug listening", zap.String("addr", *debugListen))
	}

	ln, err := proxy.ListenTCP(ctx, "tcp", cfg.ListenAddress(), ka)
	if err != nil {
		return err
	}

	g.Go(func() error {
		// The proxy can stop on its own; take the debug server down with it.
		defer stop()
		if err := l.Serve(ctx, ln); err != nil {
			return fmt.Errorf("proxy serve: %w", err)
		}
		return nil
	})
	logger.Info("proxy listening",
		zap.Stringer("addr", ln.Addr()),
		zap.String("upstream", cfg.UpstreamAddress()),
		zap.String("via", *via),
		zap.Int("buffer_size", cfg.BufferSize),
	)

	err = g.Wait()

	logger.Info("shutting down")
	return err
}

func newLogger(verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.DisableStacktrace = true
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return zc.Build()
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "":
		return net.KeepAliveConfig{}, errors.New("empty")
	case "on":
		return net.KeepAliveConfig{Enable: true}, nil
	case "off":
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveInt(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveInt(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     time.Duration(keepIdle) * time.Second,
		Interval: time.Duration(keepIntvl) * time.Second,
		Count:    keepCnt,
	}, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}

func defaultVia() string {
	if p := os.Getenv("ALL_PROXY"); p != "" {
		return p
	}

	if p := os.Getenv("all_proxy"); p != "" {
		return p
	}

	return "direct://"
}
