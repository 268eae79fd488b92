package main

import (
	"github.com/alecthomas/kong"
	"github.com/gentoomaniac/logging"
)

var (
	version = "unset"
	commit  = "unset"
	binName = "unity-backup"
	builtBy = "manual"
	date    = "unset"
)

var cli struct {
	logging.LoggingConfig

	Run     RunCmd     `cmd:"" default:"1" help:"Back up every array in the target list."`
	History HistoryCmd `cmd:"" help:"Inspect past runs recorded in the ledger."`

	Version kong.VersionFlag `help:"Display version."`
}

func main() {
	ctx := kong.Parse(&cli, kong.UsageOnError(), kong.Vars{
		"version": version,
		"commit":  commit,
		"binName": binName,
		"builtBy": builtBy,
		"date":    date,
	})
	logging.Setup(&cli.LoggingConfig)

	var code int
	switch ctx.Command() {
	case "history":
		code = history(&cli.History)

	default:
		code = run(&cli.Run)
	}
	ctx.Exit(code)
}
