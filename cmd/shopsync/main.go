package main

import (
	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/shopsync/cmd/shopsync/commands"
	"git.home.luguber.info/inful/shopsync/internal/version"
)

func main() {
	cli := &commands.CLI{}
	ctx := kong.Parse(cli,
		kong.Name("shopsync"),
		kong.Description("Keeps a Todoist shopping list organized into aisle sections."),
		kong.UsageOnError(),
		kong.Vars{"version": version.Version},
	)
	err := ctx.Run(&commands.Global{})
	ctx.FatalIfErrorf(err)
}
