// Command bridgectl talks to an osc-bridge device over a serial port or the
// tcp link: file transfer, directory listing, echo, log streaming and
// discovery.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Set at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:           "bridgectl",
		Usage:          "Host tool for osc-bridge devices",
		Version:        fmt.Sprintf("%s (commit: %s)", version, commit),
		Flags:          linkFlags(),
		Before:         setupLogging,
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			readCommand(),
			writeCommand(),
			rmCommand(),
			rmdirCommand(),
			lsCommand(),
			echoCommand(),
			pingCommand(),
			logsCommand(),
			portsCommand(),
			discoverCommand(),
		},
	}
}

// exitErrHandler prints err and exits, preserving codes from cli.Exit.
func exitErrHandler(c *cli.Context, err error) {
	if err == nil {
		return
	}
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(c.App.ErrWriter, msg)
		}
		os.Exit(code)
	}
	fmt.Fprintf(c.App.ErrWriter, "Error: %v\n", err)
	os.Exit(1)
}
