package core

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

/*
Utilities for Wide log implementation

The function using this must declare a var of type LogLines and invoke WLogEntry on it per line to
be written. The WriteWLog will write all entries, and is typically invoked in a defer function

	logLines := core.NewLogLines()
	defer logLines.WriteWLog()
*/

// Represents a log entry to be written on function exit
type LogLine struct {
	level zapcore.Level
	log   string
}

// The set of log entries to be written on function exit
type LogLines struct {
	Lines []LogLine
}

func NewLogLines() *LogLines {
	return &LogLines{
		Lines: make([]LogLine, 0, 4),
	}
}

// Adds a log entry to the slice of entries to be written
func (l *LogLines) WLogEntry(level zapcore.Level, format string, args ...interface{}) {
	if IsLevelEnabled(level) {
		l.Lines = append(l.Lines, LogLine{level: level, log: fmt.Sprintf(format, args...)})
	}
}

// Writes the log lines
func (l *LogLines) WriteWLog() {
	logger := GetLogger()
	for i := range l.Lines {
		switch l.Lines[i].level {
		case zapcore.DebugLevel:
			logger.Debug(l.Lines[i].log)
		case zapcore.InfoLevel:
			logger.Info(l.Lines[i].log)
		case zapcore.WarnLevel:
			logger.Warn(l.Lines[i].log)
		case zapcore.ErrorLevel:
			logger.Error(l.Lines[i].log)
		}
	}
	l.Lines = l.Lines[:0]
}
