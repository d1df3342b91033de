// Command plqbot runs the Pinoy Logos Quiz bot.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/goodcleanfun/plqbot/core/buildinfo"
	corecmd "github.com/goodcleanfun/plqbot/core/cmd"
	"github.com/goodcleanfun/plqbot/core/levels"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.Command {
	serve := func(ctx context.Context, c *cli.Command) error {
		return corecmd.Run(ctx, corecmd.Options{
			ConfigPath:        c.String("config"),
		})
	}
	return &cli.Command{
		Name:    "plqbot",
		Usage:   "Pinoy Logos Quiz chat bot",
		Version: buildinfo.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config file",
				Sources: cli.EnvVars(corecmd.DefaultConfigEnvVar),
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the configured transport",
				Action: serve,
			},
			{
				Name:  "levels",
				Usage: "inspect level files",
				Commands: []*cli.Command{
					{
						Name:      "validate",
						Usage:     "load and compile every level in a directory",
						ArgsUsage: "<dir>",
						Action: func(_ context.Context, c *cli.Command) error {
							dir := c.Args().First()
							if dir == "" {
								dir = "levels"
							}
							return validateLevels(c.Root().Writer, dir)
						},
					},
				},
			},
			{
				Name:  "version",
				Usage: "print build information",
				Action: func(_ context.Context, c *cli.Command) error {
					_, err := fmt.Fprintln(c.Root().Writer, buildinfo.String())
					return err
				},
			},
		},
	}
}

func validateLevels(w io.Writer, dir string) error {
	defs, err := levels.LoadDir(dir)
	if err != nil {
		return err
	}
	repo, err := levels.NewRepository(defs...)
	if err != nil {
		return err
	}
	for _, lvl := range repo.All() {
		fmt.Fprintf(w, "%s\t%s\t%d questions\n", lvl.ID(), lvl.Name(), len(lvl.Keys()))
	}
	return nil
}
