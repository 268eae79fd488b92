package runner_test

import (
	"bytes"
	"net"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gentoomaniac/unity-backup/pkg/creds"
	"github.com/gentoomaniac/unity-backup/pkg/db"
	"github.com/gentoomaniac/unity-backup/pkg/runner"
	"github.com/gentoomaniac/unity-backup/pkg/targets"
	"github.com/gentoomaniac/unity-backup/pkg/worker"
)

// invocation captures what the fake worker could observe about the secret
// channel while it was alive.
type invocation struct {
	addr          string
	username      string
	secretPath    string
	secretContent string
	secretMode    os.FileMode
}

type fakeWorker struct {
	outcomes    map[string]worker.Outcome
	invocations []invocation
}

func (f *fakeWorker) Invoke(addr netip.Addr, username string, secretPath string) worker.Outcome {
	inv := invocation{addr: addr.String(), username: username, secretPath: secretPath}
	if content, err := os.ReadFile(secretPath); err == nil {
		inv.secretContent = string(content)
	}
	if info, err := os.Stat(secretPath); err == nil {
		inv.secretMode = info.Mode().Perm()
	}
	f.invocations = append(f.invocations, inv)
	return f.outcomes[addr.String()]
}

type memLedger struct {
	runs     []*db.Run
	finished []*db.Run
	results  []*db.TargetResult
}

func (m *memLedger) Init() error            { return nil }
func (m *memLedger) AddRun(r *db.Run) error { m.runs = append(m.runs, r); return nil }
func (m *memLedger) FinishRun(r *db.Run) error {
	m.finished = append(m.finished, r)
	return nil
}
func (m *memLedger) AddTargetResult(r *db.TargetResult) (int64, error) {
	m.results = append(m.results, r)
	return int64(len(m.results)), nil
}
func (m *memLedger) GetRuns(limit int) ([]*db.Run, error) { return m.runs, nil }
func (m *memLedger) GetTargetResults(runID string) ([]*db.TargetResult, error) {
	return m.results, nil
}
func (m *memLedger) Close() error { return nil }

func testConfig() runner.Config {
	return runner.Config{
		Browser:      "edge",
		Delay:        0,
		SkipPrecheck: true,
		ProbePort:    443,
		ProbeTimeout: time.Second,
	}
}

func newTarget(t *testing.T, addr string, line int) targets.Target {
	t.Helper()
	return targets.Target{Addr: netip.MustParseAddr(addr), Raw: addr, Line: line}
}

func mustCred(t *testing.T) *creds.Credential {
	t.Helper()
	cred, err := creds.New("admin", "hunter2")
	require.NoError(t, err)
	return cred
}

func TestNewRejectsUnknownBrowser(t *testing.T) {
	cfg := testConfig()
	cfg.Browser = "firefox"
	_, err := runner.New(cfg, &fakeWorker{}, &memLedger{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestRunAllSucceed(t *testing.T) {
	w := &fakeWorker{outcomes: map[string]worker.Outcome{
		"10.0.0.1": {Status: worker.StatusSuccess, Reason: "completion markers"},
		"10.0.0.2": {Status: worker.StatusSuccess, Reason: "clean exit"},
	}}
	ledger := &memLedger{}

	r, err := runner.New(testConfig(), w, ledger, zerolog.Nop())
	require.NoError(t, err)
	r.SetConsole(&bytes.Buffer{})

	summary := r.Run([]targets.Target{
		newTarget(t, "10.0.0.1", 1),
		newTarget(t, "10.0.0.2", 2),
	}, mustCred(t))

	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 0, summary.ExitCode())

	require.Len(t, w.invocations, 2)
	assert.Equal(t, "10.0.0.1", w.invocations[0].addr)
	assert.Equal(t, "admin", w.invocations[0].username)

	require.Len(t, ledger.runs, 1)
	assert.Equal(t, 2, ledger.runs[0].Targets)
	require.Len(t, ledger.finished, 1)
	assert.Equal(t, 2, ledger.finished[0].Succeeded)
	require.Len(t, ledger.results, 2)
	assert.Equal(t, "success", ledger.results[0].Status)
}

func TestRunSecretFileLivesOnlyDuringInvocation(t *testing.T) {
	w := &fakeWorker{outcomes: map[string]worker.Outcome{
		"10.0.0.1": {Status: worker.StatusSuccess},
		"10.0.0.2": {Status: worker.StatusFailure, Reason: "worker failed"},
	}}

	r, err := runner.New(testConfig(), w, &memLedger{}, zerolog.Nop())
	require.NoError(t, err)
	r.SetConsole(&bytes.Buffer{})

	r.Run([]targets.Target{
		newTarget(t, "10.0.0.1", 1),
		newTarget(t, "10.0.0.2", 2),
	}, mustCred(t))

	require.Len(t, w.invocations, 2)
	for _, inv := range w.invocations {
		// alive and locked down while the worker ran
		assert.Equal(t, "hunter2", inv.secretContent)
		assert.Equal(t, os.FileMode(0600), inv.secretMode)
		// gone afterwards, success and failure alike
		_, err := os.Stat(inv.secretPath)
		assert.ErrorIs(t, err, os.ErrNotExist)
	}
	// each invocation got its own file
	assert.NotEqual(t, w.invocations[0].secretPath, w.invocations[1].secretPath)
}

func TestRunMixedOutcomes(t *testing.T) {
	w := &fakeWorker{outcomes: map[string]worker.Outcome{
		"10.0.0.1": {Status: worker.StatusSuccess, Reason: "completion markers"},
		"10.0.0.2": {Status: worker.StatusTimeout, Reason: "no result within 5s", ExitCode: -1},
	}}
	ledger := &memLedger{}

	r, err := runner.New(testConfig(), w, ledger, zerolog.Nop())
	require.NoError(t, err)
	r.SetConsole(&bytes.Buffer{})

	summary := r.Run([]targets.Target{
		newTarget(t, "10.0.0.1", 1),
		newTarget(t, "10.0.0.2", 2),
	}, mustCred(t))

	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed, "timeout counts as failure")
	assert.Equal(t, 1, summary.ExitCode())

	// the timeout did not stop the loop, both targets were attempted
	require.Len(t, w.invocations, 2)
	require.Len(t, ledger.results, 2)
	assert.Equal(t, "timeout", ledger.results[1].Status)
}

func TestRunNeverLogsSecret(t *testing.T) {
	w := &fakeWorker{outcomes: map[string]worker.Outcome{
		"10.0.0.1": {Status: worker.StatusFailure, Reason: "worker failed", Stderr: "authentication rejected", ExitCode: 2},
	}}

	var logBuf bytes.Buffer
	logger := zerolog.New(&logBuf)

	r, err := runner.New(testConfig(), w, &memLedger{}, logger)
	require.NoError(t, err)
	console := &bytes.Buffer{}
	r.SetConsole(console)

	r.Run([]targets.Target{newTarget(t, "10.0.0.1", 1)}, mustCred(t))

	assert.NotContains(t, logBuf.String(), "hunter2")
	assert.NotContains(t, console.String(), "hunter2")
	// the failure detail itself does get surfaced
	assert.Contains(t, logBuf.String(), "authentication rejected")
}

func TestRunUnreachableTargetSkipsWorker(t *testing.T) {
	// grab a port nothing listens on
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(listener.Addr().(*net.TCPAddr).Port)
	require.NoError(t, listener.Close())

	w := &fakeWorker{}
	cfg := testConfig()
	cfg.SkipPrecheck = false
	cfg.ProbePort = port
	cfg.ProbeTimeout = time.Second

	r, err := runner.New(cfg, w, &memLedger{}, zerolog.Nop())
	require.NoError(t, err)
	r.SetConsole(&bytes.Buffer{})

	summary := r.Run([]targets.Target{newTarget(t, "127.0.0.1", 1)}, mustCred(t))

	assert.Empty(t, w.invocations, "unreachable array must not cost a worker run")
	require.Len(t, summary.Results, 1)
	assert.Equal(t, worker.StatusFailure, summary.Results[0].Outcome.Status)
	assert.Equal(t, "unreachable", summary.Results[0].Outcome.Reason)
	assert.Equal(t, 1, summary.ExitCode())
}

func TestRunReachableProbePassesThrough(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	w := &fakeWorker{outcomes: map[string]worker.Outcome{
		"127.0.0.1": {Status: worker.StatusSuccess, Reason: "clean exit"},
	}}
	cfg := testConfig()
	cfg.SkipPrecheck = false
	cfg.ProbePort = uint16(listener.Addr().(*net.TCPAddr).Port)

	r, err := runner.New(cfg, w, &memLedger{}, zerolog.Nop())
	require.NoError(t, err)
	r.SetConsole(&bytes.Buffer{})

	summary := r.Run([]targets.Target{newTarget(t, "127.0.0.1", 1)}, mustCred(t))

	require.Len(t, w.invocations, 1)
	assert.Equal(t, 0, summary.ExitCode())
}
