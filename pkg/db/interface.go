package db

type DB interface {
	Init() error
	AddRun(run *Run) error
	FinishRun(run *Run) error
	AddTargetResult(result *TargetResult) (int64, error)
	GetRuns(limit int) ([]*Run, error)
	GetTargetResults(runID string) ([]*TargetResult, error)
	Close() error
}
