package worker

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// The worker prints these to stdout when the respective download finished.
// Its exit code was never reliable enough to trust on its own, so they are
// the primary success signal.
const (
	configMarker   = "Backup workflow completed!"
	keystoreMarker = "Encryption keystore backup completed!"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusTimeout Status = "timeout"
)

// Outcome is the classified result of one worker invocation.
type Outcome struct {
	Status   Status
	ExitCode int
	Reason   string
	Stderr   string
	Duration time.Duration
}

type Config struct {
	Python      string
	Script      string
	Browser     string
	ConfigDir   string
	KeystoreDir string
	Timeout     time.Duration
}

// Invoker runs the Selenium backup script once per array within a time
// budget and turns whatever happened into an Outcome.
type Invoker struct {
	cfg Config
	log zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) *Invoker {
	return &Invoker{cfg: cfg, log: logger}
}

// Invoke starts the worker against one array and waits for it to finish or
// run out of time. The secret travels only through the file at secretPath,
// never through argv beyond that path or the environment.
func (w *Invoker) Invoke(addr netip.Addr, username string, secretPath string) Outcome {
	args := []string{
		w.cfg.Script,
		consoleURL(addr),
		username,
		"--password-file", secretPath,
		"--browser", w.cfg.Browser,
	}

	cmd := exec.Command(w.cfg.Python, args...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Outcome{Status: StatusFailure, ExitCode: -1, Reason: fmt.Sprintf("stdout pipe: %v", err)}
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Outcome{Status: StatusFailure, ExitCode: -1, Reason: fmt.Sprintf("stderr pipe: %v", err)}
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return Outcome{Status: StatusFailure, ExitCode: -1, Reason: fmt.Sprintf("starting worker: %v", err)}
	}
	w.log.Debug().Str("target", addr.String()).Str("script", w.cfg.Script).Msg("Worker started")

	// Both pipes are drained concurrently so a chatty worker can never fill
	// a pipe buffer and deadlock the wait below.
	var stdout, stderr bytes.Buffer
	g := errgroup.Group{}
	g.Go(func() error {
		_, err := io.Copy(&stdout, stdoutPipe)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&stderr, stderrPipe)
		return err
	})

	done := make(chan error, 1)
	go func() {
		gerr := g.Wait()
		werr := cmd.Wait()
		if werr == nil {
			werr = gerr
		}
		done <- werr
	}()

	select {
	case waitErr := <-done:
		return w.classify(addr, waitErr, stdout.String(), stderr.String(), time.Since(started))

	case <-time.After(w.cfg.Timeout):
		if err := cmd.Process.Kill(); err != nil {
			w.log.Warn().Err(err).Str("target", addr.String()).Msg("Failed to kill timed out worker")
		}
		// reap in the background, the loop moves on immediately
		go func() { <-done }()
		return Outcome{
			Status:   StatusTimeout,
			ExitCode: -1,
			Reason:   fmt.Sprintf("no result within %s", w.cfg.Timeout),
			Duration: time.Since(started),
		}
	}
}

// classify applies the layered success check: completion markers first, then
// artifact files on disk, then the exit code. The artifact check accepts
// files left behind by an earlier run for the same address, matching the
// worker's historical trust model.
func (w *Invoker) classify(addr netip.Addr, waitErr error, stdout, stderr string, elapsed time.Duration) Outcome {
	exitCode := 0
	if waitErr != nil {
		exitCode = -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
	}

	outcome := Outcome{ExitCode: exitCode, Stderr: stderr, Duration: elapsed}

	switch {
	case strings.Contains(stdout, configMarker) && strings.Contains(stdout, keystoreMarker):
		outcome.Status = StatusSuccess
		outcome.Reason = "completion markers"
	case w.artifactsPresent(addr):
		outcome.Status = StatusSuccess
		outcome.Reason = "artifact files"
	case waitErr == nil:
		outcome.Status = StatusSuccess
		outcome.Reason = "clean exit"
	default:
		outcome.Status = StatusFailure
		outcome.Reason = fmt.Sprintf("worker failed: %v", waitErr)
	}
	return outcome
}

// artifactsPresent reports whether both backup types already have a file for
// this address in their download directories.
func (w *Invoker) artifactsPresent(addr netip.Addr) bool {
	token := artifactToken(addr)

	config, err := filepath.Glob(filepath.Join(w.cfg.ConfigDir, "unity_backup_*-IP-"+token+"*"))
	if err != nil || len(config) == 0 {
		return false
	}
	keystore, err := filepath.Glob(filepath.Join(w.cfg.KeystoreDir, "Unity-Encryption-Backup_*-IP-"+token+"*"))
	if err != nil || len(keystore) == 0 {
		return false
	}
	return true
}

// consoleURL builds the Unisphere URL the worker navigates to. IPv6
// addresses need brackets.
func consoleURL(addr netip.Addr) string {
	if addr.Is6() {
		return fmt.Sprintf("https://[%s]", addr)
	}
	return fmt.Sprintf("https://%s", addr)
}

// artifactToken is the address as it appears in the worker's download file
// names.
func artifactToken(addr netip.Addr) string {
	return strings.NewReplacer(".", "_", ":", "_").Replace(addr.String())
}
