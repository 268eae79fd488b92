package db

// Run is one batch execution: a row created when the loop starts and
// finalized once the summary is known.
type Run struct {
	ID        string // run UUID
	Started   int64  // unix seconds
	Finished  int64  // unix seconds, 0 while running
	Browser   string
	Targets   int
	Succeeded int
	Failed    int
}

// TargetResult is the outcome of a single array within a run.
type TargetResult struct {
	ID       int64
	RunID    string
	Address  string
	Status   string // success, failure or timeout
	ExitCode int
	Reason   string
	Duration int64 // milliseconds
	Finished int64 // unix seconds
}
