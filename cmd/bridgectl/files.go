package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/kstaniek/go-osc-bridge/internal/client"
)

func readCommand() *cli.Command {
	return &cli.Command{
		Name:      "read",
		Usage:     "Print a device file (or save it with --out)",
		ArgsUsage: "<remote>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Local file to write instead of stdout"},
		},
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1, "<remote>"); err != nil {
				return err
			}
			return withClient(c, func(ctx context.Context, cl *client.Client) error {
				data, err := cl.ReadFile(ctx, c.Args().First())
				if err != nil {
					return err
				}
				if out := c.String("out"); out != "" {
					return os.WriteFile(out, data, 0o644)
				}
				_, err = c.App.Writer.Write(data)
				return err
			})
		},
	}
}

func writeCommand() *cli.Command {
	return &cli.Command{
		Name:      "write",
		Usage:     "Upload a local file (\"-\" reads stdin)",
		ArgsUsage: "<local> <remote>",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 2, "<local> <remote>"); err != nil {
				return err
			}
			data, err := readLocal(c.Args().Get(0))
			if err != nil {
				return err
			}
			return withClient(c, func(ctx context.Context, cl *client.Client) error {
				if err := cl.WriteFile(ctx, c.Args().Get(1), data); err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "wrote %d bytes to %s\n", len(data), c.Args().Get(1))
				return nil
			})
		},
	}
}

func rmCommand() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "Remove a device file",
		ArgsUsage: "<remote>",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1, "<remote>"); err != nil {
				return err
			}
			return withClient(c, func(ctx context.Context, cl *client.Client) error {
				return cl.RemoveFile(ctx, c.Args().First())
			})
		},
	}
}

func rmdirCommand() *cli.Command {
	return &cli.Command{
		Name:      "rmdir",
		Usage:     "Remove a device directory and its content",
		ArgsUsage: "<remote>",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1, "<remote>"); err != nil {
				return err
			}
			return withClient(c, func(ctx context.Context, cl *client.Client) error {
				return cl.RemoveDir(ctx, c.Args().First())
			})
		},
	}
}

func lsCommand() *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "List a device directory",
		ArgsUsage: "[remote]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "recursive", Aliases: []string{"r"}, Usage: "Descend into subdirectories"},
		},
		Action: func(c *cli.Context) error {
			dir := "/"
			if c.NArg() > 0 {
				dir = c.Args().First()
			}
			return withClient(c, func(ctx context.Context, cl *client.Client) error {
				items, err := cl.ListDir(ctx, dir, c.Bool("recursive"))
				if err != nil {
					return err
				}
				printTree(c.App.Writer, items, 0)
				return nil
			})
		},
	}
}

func printTree(w io.Writer, items []*client.DirItem, depth int) {
	for _, it := range items {
		name := it.Name
		if it.Dir {
			name += "/"
		}
		fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), name)
		if it.Dir {
			printTree(w, it.Children, depth+1)
		}
	}
}

func echoCommand() *cli.Command {
	return &cli.Command{
		Name:      "echo",
		Usage:     "Ask the device to echo an integer",
		ArgsUsage: "<int>",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1, "<int>"); err != nil {
				return err
			}
			n, err := strconv.ParseInt(c.Args().First(), 10, 32)
			if err != nil {
				return cli.Exit(fmt.Sprintf("invalid int %q", c.Args().First()), 2)
			}
			return withClient(c, func(ctx context.Context, cl *client.Client) error {
				v, err := cl.Echo(ctx, int32(n))
				if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, v)
				return nil
			})
		},
	}
}

func pingCommand() *cli.Command {
	return &cli.Command{
		Name:  "ping",
		Usage: "Measure echo round trips",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "count", Aliases: []string{"c"}, Value: 4, Usage: "Number of round trips"},
			&cli.DurationFlag{Name: "interval", Value: 500 * time.Millisecond, Usage: "Pause between round trips"},
		},
		Action: func(c *cli.Context) error {
			return withClient(c, func(ctx context.Context, cl *client.Client) error {
				var failed int
				for i := 0; i < c.Int("count"); i++ {
					if i > 0 {
						select {
						case <-ctx.Done():
							return ctx.Err()
						case <-time.After(c.Duration("interval")):
						}
					}
					start := time.Now()
					_, err := cl.Echo(ctx, int32(i))
					if err != nil {
						failed++
						fmt.Fprintf(c.App.Writer, "seq=%d error: %v\n", i, err)
						continue
					}
					fmt.Fprintf(c.App.Writer, "seq=%d time=%v\n", i, time.Since(start).Round(time.Microsecond))
				}
				if failed > 0 {
					return cli.Exit(fmt.Sprintf("%d of %d failed", failed, c.Int("count")), 1)
				}
				return nil
			})
		},
	}
}
