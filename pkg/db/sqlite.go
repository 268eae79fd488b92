package db

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

func NewSQLLite(dbpath string) (*SQLLiteDB, error) {
	rawDB, err := sql.Open("sqlite3", dbpath)
	return &SQLLiteDB{rawDB: rawDB}, err
}

type SQLLiteDB struct {
	rawDB *sql.DB
}

func (db *SQLLiteDB) runStatement(sql string) (sql.Result, error) {
	statement, err := db.rawDB.Prepare(sql)
	if err != nil {
		return nil, err
	}
	result, err := statement.Exec()
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (db *SQLLiteDB) Init() (err error) {
	_, err = db.runStatement("PRAGMA foreign_keys = ON")
	if err != nil {
		return
	}
	log.Debug().Msg("Enabling foreign keys")

	_, err = db.runStatement(
		"CREATE TABLE IF NOT EXISTS runs (" +
			"id TEXT PRIMARY KEY, " +
			"started INTEGER, " +
			"finished INTEGER, " +
			"browser TEXT, " +
			"targets INTEGER, " +
			"succeeded INTEGER, " +
			"failed INTEGER" +
			")")
	if err != nil {
		return err
	}

	_, err = db.runStatement(
		"CREATE TABLE IF NOT EXISTS target_results (" +
			"id INTEGER PRIMARY KEY AUTOINCREMENT, " +
			"runid TEXT, " +
			"address TEXT, " +
			"status TEXT, " +
			"exitcode INTEGER, " +
			"reason TEXT, " +
			"duration INTEGER, " +
			"finished INTEGER, " +
			"FOREIGN KEY(runid) REFERENCES runs(id)" +
			")")

	return err
}

func (db *SQLLiteDB) AddRun(run *Run) error {
	_, err := db.rawDB.Exec("INSERT INTO runs (id, started, finished, browser, targets, succeeded, failed) VALUES(?, ?, ?, ?, ?, ?, ?)",
		run.ID, run.Started, run.Finished, run.Browser, run.Targets, run.Succeeded, run.Failed)
	return err
}

func (db *SQLLiteDB) FinishRun(run *Run) error {
	_, err := db.rawDB.Exec("UPDATE runs SET finished=?, succeeded=?, failed=? WHERE id=?",
		run.Finished, run.Succeeded, run.Failed, run.ID)
	return err
}

func (db *SQLLiteDB) AddTargetResult(result *TargetResult) (int64, error) {
	res, err := db.rawDB.Exec("INSERT INTO target_results (runid, address, status, exitcode, reason, duration, finished) VALUES(?, ?, ?, ?, ?, ?, ?)",
		result.RunID, result.Address, result.Status, result.ExitCode, result.Reason, result.Duration, result.Finished)
	if err != nil {
		return -1, err
	}

	return res.LastInsertId()
}

func (db *SQLLiteDB) GetRuns(limit int) (runs []*Run, err error) {
	rows, err := db.rawDB.Query("SELECT id, started, finished, browser, targets, succeeded, failed FROM runs ORDER BY started DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		run := &Run{}
		if err := rows.Scan(&run.ID, &run.Started, &run.Finished, &run.Browser, &run.Targets, &run.Succeeded, &run.Failed); err != nil {
			return nil, err
		}
		log.Debug().
			Str("id", run.ID).
			Int("targets", run.Targets).
			Msg("run found")
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func (db *SQLLiteDB) GetTargetResults(runID string) (results []*TargetResult, err error) {
	rows, err := db.rawDB.Query("SELECT id, runid, address, status, exitcode, reason, duration, finished FROM target_results WHERE runid=? ORDER BY id", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		result := &TargetResult{}
		if err := rows.Scan(&result.ID, &result.RunID, &result.Address, &result.Status, &result.ExitCode, &result.Reason, &result.Duration, &result.Finished); err != nil {
			return nil, err
		}
		results = append(results, result)
	}

	return results, rows.Err()
}

func (db *SQLLiteDB) Close() error {
	return db.rawDB.Close()
}
