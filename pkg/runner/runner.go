package runner

import (
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gentoomaniac/unity-backup/pkg/creds"
	"github.com/gentoomaniac/unity-backup/pkg/db"
	"github.com/gentoomaniac/unity-backup/pkg/targets"
	"github.com/gentoomaniac/unity-backup/pkg/worker"
)

// Worker is the external backup process, invoked once per array.
type Worker interface {
	Invoke(addr netip.Addr, username string, secretPath string) worker.Outcome
}

type Config struct {
	Browser      string        `validate:"required,oneof=chrome edge"`
	Delay        time.Duration `validate:"gte=0"`
	SkipPrecheck bool
	ProbePort    uint16        `validate:"required"`
	ProbeTimeout time.Duration `validate:"gt=0"`
}

// Runner walks the target list strictly in order: probe, stage the secret,
// invoke the worker, record, pause. One array's failure never stops the rest.
type Runner struct {
	cfg     Config
	worker  Worker
	ledger  db.DB
	log     zerolog.Logger
	console io.Writer
}

func New(cfg Config, w Worker, ledger db.DB, logger zerolog.Logger) (*Runner, error) {
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("runner config: %w", err)
	}
	return &Runner{
		cfg:     cfg,
		worker:  w,
		ledger:  ledger,
		log:     logger,
		console: os.Stdout,
	}, nil
}

// SetConsole redirects the per-target status lines, used by tests.
func (r *Runner) SetConsole(w io.Writer) {
	r.console = w
}

// Result pairs a target with its classified outcome.
type Result struct {
	Target  targets.Target
	Outcome worker.Outcome
}

type Summary struct {
	RunID    uuid.UUID
	Started  time.Time
	Finished time.Time
	Results  []Result

	Succeeded int
	Failed    int // timeouts included
}

func (s *Summary) Duration() time.Duration {
	return s.Finished.Sub(s.Started)
}

// ExitCode is 0 only when every single target succeeded.
func (s *Summary) ExitCode() int {
	if s.Failed > 0 || s.Succeeded != len(s.Results) {
		return 1
	}
	return 0
}

// Run executes the batch. The credential is only ever materialized on disk
// inside the per-target secret file, which is shredded before the next
// target starts no matter how the invocation went.
func (r *Runner) Run(list []targets.Target, cred *creds.Credential) *Summary {
	summary := &Summary{
		RunID:   uuid.New(),
		Started: time.Now(),
	}
	logger := r.log.With().Str("run", summary.RunID.String()).Logger()
	logger.Info().Int("targets", len(list)).Str("browser", r.cfg.Browser).Msg("Starting batch run")

	if err := r.ledger.AddRun(&db.Run{
		ID:      summary.RunID.String(),
		Started: summary.Started.Unix(),
		Browser: r.cfg.Browser,
		Targets: len(list),
	}); err != nil {
		logger.Warn().Err(err).Msg("Failed to record run in ledger")
	}

	for i, target := range list {
		outcome := r.runTarget(logger, target, cred)
		summary.Results = append(summary.Results, Result{Target: target, Outcome: outcome})
		if outcome.Status == worker.StatusSuccess {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
		r.record(logger, summary.RunID.String(), target, outcome)

		if i < len(list)-1 && r.cfg.Delay > 0 {
			logger.Debug().Dur("delay", r.cfg.Delay).Msg("Waiting before next target")
			time.Sleep(r.cfg.Delay)
		}
	}

	summary.Finished = time.Now()
	if err := r.ledger.FinishRun(&db.Run{
		ID:        summary.RunID.String(),
		Finished:  summary.Finished.Unix(),
		Succeeded: summary.Succeeded,
		Failed:    summary.Failed,
	}); err != nil {
		logger.Warn().Err(err).Msg("Failed to finalize run in ledger")
	}

	logger.Info().
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Dur("duration", summary.Duration()).
		Msg("Batch run finished")
	return summary
}

func (r *Runner) runTarget(logger zerolog.Logger, target targets.Target, cred *creds.Credential) worker.Outcome {
	logger.Info().Str("target", target.String()).Msg("Processing array")

	if !r.cfg.SkipPrecheck {
		if err := r.probe(target.Addr); err != nil {
			logger.Error().Err(err).Str("target", target.String()).Msg("Array unreachable, skipping worker")
			return worker.Outcome{
				Status:   worker.StatusFailure,
				ExitCode: -1,
				Reason:   "unreachable",
			}
		}
	}

	secretFile, err := creds.NewSecretFile(cred.Secret())
	if err != nil {
		logger.Error().Err(err).Str("target", target.String()).Msg("Failed to stage secret file")
		return worker.Outcome{
			Status:   worker.StatusFailure,
			ExitCode: -1,
			Reason:   "secret file",
		}
	}
	defer func() {
		if err := secretFile.Destroy(); err != nil {
			logger.Warn().Err(err).Str("target", target.String()).Msg("Failed to destroy secret file")
		}
	}()

	return r.worker.Invoke(target.Addr, cred.Username, secretFile.Path())
}

// probe dials the management console port before paying for a full worker
// timeout on a dead array.
func (r *Runner) probe(addr netip.Addr) error {
	hostport := net.JoinHostPort(addr.String(), strconv.Itoa(int(r.cfg.ProbePort)))
	conn, err := net.DialTimeout("tcp", hostport, r.cfg.ProbeTimeout)
	if err != nil {
		return fmt.Errorf("probing %s: %w", hostport, err)
	}
	conn.Close()
	return nil
}

func (r *Runner) record(logger zerolog.Logger, runID string, target targets.Target, outcome worker.Outcome) {
	if _, err := r.ledger.AddTargetResult(&db.TargetResult{
		RunID:    runID,
		Address:  target.String(),
		Status:   string(outcome.Status),
		ExitCode: outcome.ExitCode,
		Reason:   outcome.Reason,
		Duration: outcome.Duration.Milliseconds(),
		Finished: time.Now().Unix(),
	}); err != nil {
		logger.Warn().Err(err).Str("target", target.String()).Msg("Failed to record result in ledger")
	}

	switch outcome.Status {
	case worker.StatusSuccess:
		logger.Info().
			Str("target", target.String()).
			Str("reason", outcome.Reason).
			Dur("duration", outcome.Duration).
			Msg("Backup succeeded")
		fmt.Fprintf(r.console, "%s %s (%s)\n", color.GreenString("OK      "), target, outcome.Reason)
	case worker.StatusTimeout:
		logger.Error().
			Str("target", target.String()).
			Str("reason", outcome.Reason).
			Msg("Backup timed out")
		fmt.Fprintf(r.console, "%s %s (%s)\n", color.YellowString("TIMEOUT "), target, outcome.Reason)
	default:
		event := logger.Error().
			Str("target", target.String()).
			Str("reason", outcome.Reason).
			Int("exitcode", outcome.ExitCode)
		if outcome.Stderr != "" {
			event = event.Str("stderr", outcome.Stderr)
		}
		event.Msg("Backup failed")
		fmt.Fprintf(r.console, "%s %s (%s)\n", color.RedString("FAILED  "), target, outcome.Reason)
	}
}
