package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/kstaniek/go-osc-bridge/internal/metrics"
	"github.com/kstaniek/go-osc-bridge/internal/serial"
)

func main() {
	cfg, showVersion, err := parseFlags(os.Args[1:], os.Stderr)
	if showVersion {
		fmt.Printf("osc-bridge %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fatal(err)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	fs, err := openStorage(cfg.root)
	if err != nil {
		l.Error("storage_init_error", "error", err)
		return
	}
	stream := serial.NewStream()
	lk, err := initBackend(ctx, cancel, cfg, stream, l, &wg)
	if err != nil {
		l.Error("backend_init_error", "error", err)
		return
	}
	startMetricsLogger(ctx, cfg.logMetricsEvery, lk.tx.Pending, l, &wg)
	b, err := newDevice(stream, lk.tx, fs, cfg, l)
	if err != nil {
		l.Error("device_init_error", "error", err)
		cancel()
		lk.cleanup()
		wg.Wait()
		return
	}
	runLoop(ctx, b, stream, cfg.pollInterval, cfg.heartbeatEvery, &wg)

	if lk.srv != nil && cfg.mdnsEnable {
		// Advertise once the listener is bound.
		go func() {
			select {
			case <-lk.srv.Ready():
			case <-ctx.Done():
				return
			}
			var portNum int
			if _, p, err := net.SplitHostPort(lk.srv.Addr()); err == nil {
				portNum, _ = strconv.Atoi(p)
			}
			cleanupMDNS, err := startMDNS(ctx, cfg, portNum)
			if err != nil {
				l.Warn("mdns_start_failed", "error", err)
				return
			}
			l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", portNum)
			go func() { <-ctx.Done(); cleanupMDNS() }()
		}()
	}

	// Ready when the link is up (tcp: listener bound) and context not cancelled.
	metrics.SetReadinessFunc(func() bool {
		if lk.srv != nil {
			select {
			case <-lk.srv.Ready():
			default:
				return false
			}
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case <-ctx.Done():
		l.Warn("shutdown_link_failed")
	}
	cancel()
	lk.cleanup()
	wg.Wait()
}
