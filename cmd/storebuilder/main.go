package main

import (
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/storebuilder/cmd/storebuilder/commands"
	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/storebuilder/internal/version"
)

func main() {
	cli := &commands.CLI{}
	parser := kong.Parse(cli,
		kong.Name("storebuilder"),
		kong.Description("Multi-tenant storefront generator"),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
	)
	if err := parser.Run(&commands.Global{}, cli); err != nil {
		adapter := foundationerrors.NewCLIErrorAdapter(cli.Verbose, nil)
		os.Exit(adapter.Report(err))
	}
}
