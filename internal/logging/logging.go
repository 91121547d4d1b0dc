// Package logging provides centralized logging functionality using logrus.
// It configures structured logging with JSON formatting for commcellctl and
// provides convenience functions for the common log levels.
package logging

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// programName is used as a field in all log entries for identification
var programName = "commcellctl"

// LogInfo logs an informational message with the programName field.
func LogInfo(msg string) {
	log.WithFields(log.Fields{"program": programName}).Info(msg)
}

// LogError logs the provided error message with the programName field.
// This function should be used for recoverable errors that do not
// terminate the program.
func LogError(msg string) {
	log.WithFields(log.Fields{"program": programName}).Error(msg)
}

// HandleError logs the provided error and exits the program with a non-zero
// exit code. This function should be used for critical errors that prevent
// the program from continuing.
func HandleError(err error) {
	log.WithFields(log.Fields{"program": programName}).Error(err)
	os.Exit(2)
}

// PrepareLogs initializes the logging system. Log entries are written to
// both stdout and the given log file with JSON formatting; an empty logName
// keeps stdout only. Debug mode enables DEBUG level output, which includes
// per-request transport logs.
//
// Returns an error if the log file cannot be opened or created.
func PrepareLogs(logName string, debug bool) error {
	out := io.Writer(os.Stdout)

	if logName != "" {
		logFile, err := os.OpenFile(logName, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %v", err)
		}
		out = io.MultiWriter(os.Stdout, logFile)
	}

	log.SetOutput(out)
	log.SetFormatter(&log.JSONFormatter{})

	if debug {
		log.SetLevel(log.DebugLevel)
		log.Debug("Debug mode enabled")
	}
	return nil
}
