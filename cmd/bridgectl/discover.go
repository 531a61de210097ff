package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/urfave/cli/v2"

	"github.com/kstaniek/go-osc-bridge/internal/serial"
)

const mdnsServiceType = "_osc-bridge._tcp"

func portsCommand() *cli.Command {
	return &cli.Command{
		Name:  "ports",
		Usage: "List local serial ports",
		Action: func(c *cli.Context) error {
			ports, err := serial.ListPorts()
			if err != nil {
				return err
			}
			for _, p := range ports {
				if p.USB {
					fmt.Fprintf(c.App.Writer, "%s\tusb %s:%s\t%s\t%s\n", p.Name, p.VID, p.PID, p.Serial, p.Product)
					continue
				}
				fmt.Fprintln(c.App.Writer, p.Name)
			}
			return nil
		},
	}
}

func discoverCommand() *cli.Command {
	return &cli.Command{
		Name:  "discover",
		Usage: "Browse mDNS for osc-bridge tcp links",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "wait", Value: 3 * time.Second, Usage: "How long to browse"},
		},
		Action: func(c *cli.Context) error {
			resolver, err := zeroconf.NewResolver(nil)
			if err != nil {
				return fmt.Errorf("mdns resolver: %w", err)
			}
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("wait"))
			defer cancel()
			entries := make(chan *zeroconf.ServiceEntry)
			done := make(chan struct{})
			go func() {
				defer close(done)
				for e := range entries {
					fmt.Fprintln(c.App.Writer, formatEntry(e))
				}
			}()
			if err := resolver.Browse(ctx, mdnsServiceType, "local.", entries); err != nil {
				return fmt.Errorf("mdns browse: %w", err)
			}
			<-ctx.Done()
			// The resolver closes entries once it has shut down.
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return nil
		},
	}
}

func formatEntry(e *zeroconf.ServiceEntry) string {
	host := e.HostName
	if len(e.AddrIPv4) > 0 {
		host = e.AddrIPv4[0].String()
	} else if len(e.AddrIPv6) > 0 {
		host = "[" + e.AddrIPv6[0].String() + "]"
	}
	return fmt.Sprintf("%s\t%s:%d\t%s", e.Instance, host, e.Port, strings.Join(e.Text, " "))
}
