package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/kstaniek/go-osc-bridge/internal/bridge"
	"github.com/kstaniek/go-osc-bridge/internal/filesystem"
	"github.com/kstaniek/go-osc-bridge/internal/osc"
	"github.com/kstaniek/go-osc-bridge/internal/serial"
)

// openStorage returns the filesystem the device serves, rooted at root.
func openStorage(root string) (afero.Fs, error) {
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage root %s: %w", root, err)
	}
	return afero.NewBasePathFs(osFs, root), nil
}

// newDevice builds the bridge on stream/w and registers the device methods.
func newDevice(stream *serial.Stream, w io.Writer, fs afero.Fs, cfg *appConfig, l *slog.Logger) (*bridge.Bridge, error) {
	b := bridge.New(stream, w,
		bridge.WithLogger(l),
		bridge.WithMaxMessageSize(cfg.maxMessageSize),
	)
	if err := filesystem.NewService(fs, filesystem.WithLogger(l)).Register(b); err != nil {
		return nil, fmt.Errorf("register storage: %w", err)
	}
	if err := b.AddMethod("/echo/int", echoInt(b)); err != nil {
		return nil, fmt.Errorf("register echo: %w", err)
	}
	l.Info("device_ready", "methods", b.Methods())
	return b, nil
}

// echoInt answers /echo/int (id, n) with (id, n).
func echoInt(b *bridge.Bridge) bridge.Handler {
	return func(m *osc.Message) {
		id := bridge.ID(m)
		if !b.ValidateData(m, "ii", 2) {
			_ = b.RespondError(id)
			return
		}
		_ = b.Respond(id, m.Int(1))
	}
}

// runLoop drives the bridge until ctx is done. It wakes up on incoming
// bytes and at every poll tick; when heartbeat > 0 an empty frame is sent
// at that interval while no outgoing frame is open.
func runLoop(ctx context.Context, b *bridge.Bridge, stream *serial.Stream, poll, heartbeat time.Duration, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(poll)
		defer t.Stop()
		var hb <-chan time.Time
		if heartbeat > 0 {
			ht := time.NewTicker(heartbeat)
			defer ht.Stop()
			hb = ht.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-stream.Signal():
				b.Update()
			case <-t.C:
				b.Update()
			case <-hb:
				if b.Idle() {
					_ = b.Heartbeat()
				}
			}
		}
	}()
}

// fatal prints err and exits; used before the logger exists.
func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(2)
}
