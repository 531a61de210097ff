package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/kstaniek/go-osc-bridge/internal/client"
	"github.com/kstaniek/go-osc-bridge/internal/logging"
	"github.com/kstaniek/go-osc-bridge/internal/serial"
)

var errNoLink = errors.New("no link given (use --tcp or --serial)")

func linkFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "tcp", Usage: "Device tcp link address (host:port)", EnvVars: []string{"BRIDGECTL_TCP"}},
		&cli.StringFlag{Name: "serial", Usage: "Serial device path", EnvVars: []string{"BRIDGECTL_SERIAL"}},
		&cli.StringFlag{Name: "driver", Usage: "Serial driver: tarm|bugst", Value: serial.DriverTarm},
		&cli.IntFlag{Name: "baud", Usage: "Serial baud rate", Value: 115200},
		&cli.DurationFlag{Name: "timeout", Usage: "Response timeout", Value: client.DefaultResponseTimeout},
		&cli.StringFlag{Name: "log-level", Usage: "Log level: debug|info|warn|error", Value: "warn"},
	}
}

func setupLogging(c *cli.Context) error {
	logging.Set(logging.New("text", logging.ParseLevel(c.String("log-level")), c.App.ErrWriter).With("app", "bridgectl"))
	return nil
}

// dialLink opens the link selected by the global flags; swapped in tests.
var dialLink = func(c *cli.Context) (io.ReadWriteCloser, error) {
	switch {
	case c.String("tcp") != "":
		conn, err := net.DialTimeout("tcp", c.String("tcp"), 5*time.Second)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", c.String("tcp"), err)
		}
		return conn, nil
	case c.String("serial") != "":
		// Blocking reads: the client owns a dedicated receive goroutine.
		p, err := serial.Open(c.String("driver"), c.String("serial"), c.Int("baud"), 0)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", c.String("serial"), err)
		}
		return p, nil
	default:
		return nil, errNoLink
	}
}

// withClient connects, runs fn and closes the link.
func withClient(c *cli.Context, fn func(ctx context.Context, cl *client.Client) error) error {
	rwc, err := dialLink(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	cl := client.New(rwc, client.WithResponseTimeout(c.Duration("timeout")), client.WithLogger(logging.L()))
	defer cl.Close()
	return fn(c.Context, cl)
}

func requireArgs(c *cli.Context, n int, usage string) error {
	if c.NArg() != n {
		return cli.Exit(fmt.Sprintf("usage: bridgectl %s %s", c.Command.Name, usage), 2)
	}
	return nil
}

func readLocal(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(name)
}
