package main

import (
	"errors"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/prebake/cmd/prebake/commands"
	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
	"git.home.luguber.info/inful/prebake/internal/version"
)

func main() {
	cli := &commands.CLI{}
	parser := kong.Parse(cli,
		kong.Name("prebake"),
		kong.Description("Incremental build engine that keeps derived files up to date."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
	)
	global := &commands.Global{Logger: cli.Logger()}
	err := parser.Run(global, cli)
	if err == nil {
		return
	}
	var exit *commands.ExitError
	if errors.As(err, &exit) {
		if exit.Err != nil {
			foundation.NewCLIErrorAdapter(cli.Verbose, global.Logger).Report(os.Stderr, exit.Err)
		}
		os.Exit(exit.Code)
	}
	os.Exit(foundation.NewCLIErrorAdapter(cli.Verbose, global.Logger).Report(os.Stderr, err))
}
