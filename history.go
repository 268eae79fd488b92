package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	clitools "github.com/gentoomaniac/unity-backup/pkg/cli"
	"github.com/gentoomaniac/unity-backup/pkg/db"
)

type HistoryCmd struct {
	DBPath string `short:"d" name:"db" help:"Run ledger database file." default:"unity-backup.db" type:"path"`
	Limit  int    `help:"How many runs to list." default:"20"`
	Select bool   `short:"s" help:"Pick a run and show its per-array results."`
}

func history(params *HistoryCmd) int {
	ledger, err := db.NewSQLLite(params.DBPath)
	if err != nil {
		log.Error().Err(err).Str("db", params.DBPath).Msg("Failed to open run ledger")
		return 1
	}
	defer ledger.Close()
	if err := ledger.Init(); err != nil {
		log.Error().Err(err).Str("db", params.DBPath).Msg("Failed to initialize run ledger")
		return 1
	}

	runs, err := ledger.GetRuns(params.Limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load runs")
		return 1
	}
	if len(runs) == 0 {
		log.Info().Msg("No runs recorded yet")
		return 0
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Run", "Started", "Duration", "Targets", "Succeeded", "Failed"})
	for _, run := range runs {
		duration := "-"
		if run.Finished > 0 {
			duration = (time.Duration(run.Finished-run.Started) * time.Second).String()
		}
		table.Append([]string{
			run.ID,
			time.Unix(run.Started, 0).Format(time.RFC3339),
			duration,
			strconv.Itoa(run.Targets),
			strconv.Itoa(run.Succeeded),
			strconv.Itoa(run.Failed),
		})
	}
	table.Render()

	if !params.Select {
		return 0
	}

	run, err := clitools.PromptRuns(runs)
	if err != nil {
		log.Error().Err(err).Msg("Failed selecting run")
		return 1
	}

	results, err := ledger.GetTargetResults(run.ID)
	if err != nil {
		log.Error().Err(err).Str("run", run.ID).Msg("Failed to load target results")
		return 1
	}

	fmt.Printf("Run %s\n", run.ID)
	details := tablewriter.NewWriter(os.Stdout)
	details.SetHeader([]string{"Array", "Status", "Reason", "Exit", "Duration"})
	for _, result := range results {
		details.Append([]string{
			result.Address,
			result.Status,
			result.Reason,
			strconv.Itoa(result.ExitCode),
			(time.Duration(result.Duration) * time.Millisecond).Round(time.Second).String(),
		})
	}
	details.Render()
	return 0
}
