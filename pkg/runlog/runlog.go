// Package runlog owns the per-run plain text log file. The file is named
// after the run start time and receives every event the console sees, in
// `[timestamp] [LEVEL] message` form, with no color codes and never any
// secret material.
package runlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type RunLog struct {
	file   *os.File
	writer zerolog.ConsoleWriter
}

func New(dir string, start time.Time) (*RunLog, error) {
	path := filepath.Join(dir, fmt.Sprintf("unity-backup_%s.log", start.Format("20060102_150405")))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening run log: %w", err)
	}

	writer := zerolog.ConsoleWriter{
		Out:     file,
		NoColor: true,
		FormatTimestamp: func(i interface{}) string {
			return fmt.Sprintf("[%s]", i)
		},
		FormatLevel: func(i interface{}) string {
			return fmt.Sprintf("[%s]", strings.ToUpper(fmt.Sprint(i)))
		},
	}

	return &RunLog{file: file, writer: writer}, nil
}

// Writer is the sink to hang into a zerolog.MultiLevelWriter next to the
// console writer.
func (l *RunLog) Writer() io.Writer {
	return l.writer
}

func (l *RunLog) Path() string {
	return l.file.Name()
}

func (l *RunLog) Close() error {
	return l.file.Close()
}
