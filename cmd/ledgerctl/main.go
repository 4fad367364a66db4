// Command ledgerctl inspects a ledger store offline.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	for _, c := range commands {
		commander.Register(c, "ledger")
	}

	flag.StringVar(&configPath, "config", os.Getenv("LEDGER_CONFIG"), "path to a YAML config file")
	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
