package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	clitools "github.com/gentoomaniac/unity-backup/pkg/cli"
	"github.com/gentoomaniac/unity-backup/pkg/db"
	"github.com/gentoomaniac/unity-backup/pkg/runlog"
	"github.com/gentoomaniac/unity-backup/pkg/runner"
	"github.com/gentoomaniac/unity-backup/pkg/targets"
	"github.com/gentoomaniac/unity-backup/pkg/worker"
)

type RunCmd struct {
	List         string `short:"l" help:"Path to the target list file." default:"ip_list.txt" type:"path"`
	Browser      string `help:"Browser engine the worker drives." enum:"chrome,edge" default:"edge"`
	Timeout      int    `short:"t" help:"Per-target time budget in seconds." default:"600"`
	Delay        int    `help:"Pause between targets in seconds." default:"5"`
	Force        bool   `short:"f" help:"Skip the confirmation prompt."`
	SkipPrecheck bool   `help:"Do not probe the management port before invoking the worker."`
	Python       string `help:"Python interpreter running the worker." default:"python3"`
	Script       string `help:"Path to the Selenium worker script." default:"create_unity_backup.py" type:"path"`
	ConfigDir    string `help:"Directory the worker downloads configuration backups to." default:"backups/configuration" type:"path"`
	KeystoreDir  string `help:"Directory the worker downloads keystore backups to." default:"backups/keystore" type:"path"`
	DBPath       string `short:"d" name:"db" help:"Run ledger database file." default:"unity-backup.db" type:"path"`
	LogDir       string `help:"Directory for per-run log files." default:"." type:"path"`
}

func run(params *RunCmd) int {
	if _, err := os.Stat(params.Script); err != nil {
		log.Error().Err(err).Str("script", params.Script).Msg("Worker script not found")
		return 1
	}
	python, err := exec.LookPath(params.Python)
	if err != nil {
		log.Error().Err(err).Str("python", params.Python).Msg("Python runtime not found")
		return 1
	}

	list, err := targets.Load(params.List)
	if err != nil {
		var invalid *targets.InvalidListError
		switch {
		case errors.Is(err, targets.ErrTemplateCreated):
			log.Error().Str("path", params.List).Msg("Target list was missing, a template has been written. Fill it in and run again.")
		case errors.As(err, &invalid):
			for _, entry := range invalid.Entries {
				log.Error().Int("line", entry.Line).Str("entry", entry.Text).Msg("Invalid target list entry")
			}
			log.Error().Str("path", params.List).Int("invalid", len(invalid.Entries)).Msg("Target list rejected, no arrays attempted")
		case errors.Is(err, targets.ErrNoTargets):
			log.Error().Str("path", params.List).Msg("Target list holds no addresses")
		default:
			log.Error().Err(err).Str("path", params.List).Msg("Failed to load target list")
		}
		return 1
	}

	cred, err := clitools.PromptCredentials()
	if err != nil {
		log.Error().Err(err).Msg("No usable credentials")
		return 1
	}
	defer cred.Wipe()

	if !params.Force && !clitools.Confirm(fmt.Sprintf("Back up %d arrays via %s", len(list), params.Browser)) {
		log.Info().Msg("Cancelled by operator")
		return 1
	}

	started := time.Now()
	runLog, err := runlog.New(params.LogDir, started)
	if err != nil {
		log.Error().Err(err).Str("dir", params.LogDir).Msg("Failed to open run log")
		return 1
	}
	defer runLog.Close()

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

	runLogger := newRunLogger(runLog)

	invoker := worker.New(worker.Config{
		Python:      python,
		Script:      params.Script,
		Browser:     params.Browser,
		ConfigDir:   params.ConfigDir,
		KeystoreDir: params.KeystoreDir,
		Timeout:     time.Duration(params.Timeout) * time.Second,
	}, runLogger)

	batch, err := runner.New(runner.Config{
		Browser:      params.Browser,
		Delay:        time.Duration(params.Delay) * time.Second,
		SkipPrecheck: params.SkipPrecheck,
		ProbePort:    443,
		ProbeTimeout: 5 * time.Second,
	}, invoker, ledger, runLogger)
	if err != nil {
		log.Error().Err(err).Msg("Failed to construct runner")
		return 1
	}

	summary := batch.Run(list, cred)
	printSummary(summary, runLog.Path())
	return summary.ExitCode()
}

// newRunLogger mirrors run events to the console and the per-run log file.
// The file always carries at least per-target detail, even when the console
// verbosity is dialed down, unless logging is switched off entirely.
func newRunLogger(runLog *runlog.RunLog) zerolog.Logger {
	level := zerolog.GlobalLevel()
	if level > zerolog.InfoLevel && level != zerolog.Disabled {
		level = zerolog.InfoLevel
	}
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(zerolog.MultiLevelWriter(console, runLog.Writer())).
		Level(level).
		With().Timestamp().Logger()
}

func printSummary(summary *runner.Summary, logPath string) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Array", "Status", "Reason", "Duration"})
	for _, result := range summary.Results {
		status := string(result.Outcome.Status)
		switch result.Outcome.Status {
		case worker.StatusSuccess:
			status = color.GreenString(status)
		case worker.StatusTimeout:
			status = color.YellowString(status)
		default:
			status = color.RedString(status)
		}
		table.Append([]string{
			result.Target.String(),
			status,
			result.Outcome.Reason,
			result.Outcome.Duration.Round(time.Second).String(),
		})
	}
	table.Render()

	line := fmt.Sprintf("%d/%d arrays backed up in %s", summary.Succeeded, len(summary.Results), summary.Duration().Round(time.Second))
	if summary.ExitCode() == 0 {
		fmt.Println(color.GreenString(line))
	} else {
		fmt.Println(color.RedString(line))
	}
	fmt.Printf("Full log: %s\n", logPath)
}
