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
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"civverify/internal/platform/config"
	"civverify/internal/platform/httpserver"
	"civverify/internal/platform/logger"
	"civverify/internal/platform/metrics"
	"civverify/internal/verification/gate"
	"civverify/internal/verification/handler"
	"civverify/internal/verification/service"
	"civverify/internal/verification/store"
	"civverify/internal/verification/store/file"
)

// main loads configuration and the registry, then serves until interrupted.
// Any failure before the listener is up is fatal.
func main() {
	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		if isHelp(err) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "civverify: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, created, err := config.Load(opts.EnvFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	if created {
		log.Info("no env file found, created one with default values", "path", opts.EnvFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fileStore := file.New(cfg.VerifyFile)
	if opts.InitRegistry {
		initialized, err := fileStore.Init(ctx)
		if err != nil {
			return fmt.Errorf("init registry: %w", err)
		}
		if initialized {
			log.Info("created empty registry", "path", fileStore.Path())
		}
	}
	initial, err := fileStore.Load(ctx)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	m := metrics.New()
	registry := store.NewRegistry(initial, fileStore, store.WithLogger(log), store.WithMetrics(m))

	g := gate.FromConfig(cfg)
	if g.Insecure() {
		log.Warn("CIV_TOKEN is the default value; registry writes are not authenticated",
			"addr", cfg.Addr(),
		)
	}

	svc := service.New(registry, g, service.WithLogger(log), service.WithMetrics(m))
	router := handler.NewRouter(handler.New(svc, log, m))

	servers := []*http.Server{httpserver.New(cfg.Addr(), router)}
	if cfg.MetricsAddr != "" {
		servers = append(servers, httpserver.New(cfg.MetricsAddr, m.Handler()))
	}

	listeners := make([]net.Listener, 0, len(servers))
	for _, srv := range servers {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			closeAll(listeners)
			return fmt.Errorf("listen on %s: %w", srv.Addr, err)
		}
		listeners = append(listeners, ln)
	}

	log.Info("loaded registry", "path", fileStore.Path(), "records", len(initial))
	log.Info("listening", "addr", cfg.Addr(), "metrics_addr", cfg.MetricsAddr)

	grp, gctx := errgroup.WithContext(ctx)
	for i, srv := range servers {
		grp.Go(func() error {
			if err := srv.Serve(listeners[i]); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	grp.Go(func() error {
		<-gctx.Done()
		return shutdown(servers, cfg.ShutdownTimeout, log)
	})

	return grp.Wait()
}

func shutdown(servers []*http.Server, timeout time.Duration, log *slog.Logger) error {
	log.Info("shutting down", "timeout", timeout)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("graceful shutdown of %s: %w", srv.Addr, err))
		}
	}
	return errors.Join(errs...)
}

func closeAll(listeners []net.Listener) {
	for _, ln := range listeners {
		_ = ln.Close()
	}
}
