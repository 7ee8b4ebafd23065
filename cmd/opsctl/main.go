// Command opsctl performs operator tasks against the pipeline's databases: provisioning
// organizations, minting service tokens and handling failed jobs and deliveries.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "opsctl",
		Usage: "Operate the contentflow publishing pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to config file",
				Value:   "configs/config.yaml",
				EnvVars: []string{"CONTENTFLOW_CONFIG"},
			},
		},
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			orgsCommand(),
			tokenCommand(),
			jobsCommand(),
			deliveriesCommand(),
		},
	}
}

func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		if msg := exitCoder.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(exitCoder.ExitCode())
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func printJSON(c *cli.Context, v interface{}) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
