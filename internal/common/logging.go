package common

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel orders log messages by severity.
type LogLevel int32

const (
	ErrorLevel LogLevel = iota
	WarningLevel
	InfoLevel
	DebugLevel
)

const (
	errorPrefix   = "[error] "
	warningPrefix = "[warn] "
	infoPrefix    = "[info] "
	debugPrefix   = "[debug] "
)

var (
	logger = log.New(os.Stderr, "[ch10stream] ", log.LstdFlags|log.Lmicroseconds)
	level  atomic.Int32
)

func init() {
	level.Store(int32(InfoLevel))
}

// ParseLogLevel maps error, warning (or warn), info and debug to a level.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return ErrorLevel, nil
	case "warning", "warn":
		return WarningLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "debug":
		return DebugLevel, nil
	}
	return InfoLevel, fmt.Errorf("unknown log level %q: must be one of error, warning, info, debug", s)
}

// SetLogLevel changes the level from a name accepted by ParseLogLevel.
func SetLogLevel(name string) error {
	l, err := ParseLogLevel(name)
	if err != nil {
		return err
	}
	level.Store(int32(l))
	return nil
}

// SetLogOutput redirects all log output, for example to a rotating file.
func SetLogOutput(w io.Writer) {
	logger.SetOutput(w)
}

func enabled(l LogLevel) bool {
	return LogLevel(level.Load()) >= l
}

func Errorf(format string, args ...interface{}) {
	if enabled(ErrorLevel) {
		logger.Printf(errorPrefix+format, args...)
	}
}

func Warnf(format string, args ...interface{}) {
	if enabled(WarningLevel) {
		logger.Printf(warningPrefix+format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if enabled(InfoLevel) {
		logger.Printf(infoPrefix+format, args...)
	}
}

func Debugf(format string, args ...interface{}) {
	if enabled(DebugLevel) {
		logger.Printf(debugPrefix+format, args...)
	}
}

// Logf logs at info level.
func Logf(format string, args ...interface{}) {
	Infof(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	logger.Fatalf(errorPrefix+format, args...)
}
