// Package logflags configures the per-layer loggers of amxdbg.
//
// Every layer gets its own logrus entry tagged with a "layer" field. A
// layer that was not enabled with --log-output only reports errors.
package logflags

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var transport = false
var wire = false
var debugger = false
var terminal = false

var logOut io.WriteCloser

var textFormatterInstance = &textFormatter{}

func makeLogger(level logrus.Level, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New()
	logger.Level = level
	logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Out = logOut
	} else {
		logger.Out = os.Stderr
	}
	return logger.WithFields(fields)
}

func makeFlaggableLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	if flag {
		return makeLogger(logrus.DebugLevel, fields)
	}
	return makeLogger(logrus.ErrorLevel, fields)
}

// Transport returns true if the transport layer should log connection
// management.
func Transport() bool {
	return transport
}

// TransportLogger returns a logger for the transport layer.
func TransportLogger() *logrus.Entry {
	return makeFlaggableLogger(transport, logrus.Fields{"layer": "transport"})
}

// Wire returns true if every frame exchanged with the remote debugger
// should be logged.
func Wire() bool {
	return wire
}

// WireLogger returns a logger for the frames exchanged with the remote
// debugger.
func WireLogger() *logrus.Entry {
	return makeFlaggableLogger(wire, logrus.Fields{"layer": "wire"})
}

// Debugger returns true if the session state machine should log.
func Debugger() bool {
	return debugger
}

// DebuggerLogger returns a logger for the session state machine.
func DebuggerLogger() *logrus.Entry {
	return makeFlaggableLogger(debugger, logrus.Fields{"layer": "debugger"})
}

// Terminal returns true if the terminal should log.
func Terminal() bool {
	return terminal
}

func TerminalLogger() *logrus.Entry {
	return makeFlaggableLogger(terminal, logrus.Fields{"layer": "terminal"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets debugger flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "amxdbg-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if logOut != nil {
		log.SetOutput(logOut)
	}
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "debugger"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch strings.TrimSpace(logcmd) {
		case "transport":
			transport = true
		case "wire":
			wire = true
		case "debugger":
			debugger = true
		case "terminal":
			terminal = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q, run 'amxdbg help log' for usage.\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

// textFormatter is a simplified version of logrus.TextFormatter that
// doesn't make logs unreadable when they are output to a text file or to a
// terminal that doesn't support colors.
type textFormatter struct{}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b strings.Builder
	b.WriteString(entry.Time.Format("2006-01-02T15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(entry.Level.String())
	if layer, ok := entry.Data["layer"]; ok {
		fmt.Fprintf(&b, " layer=%v", layer)
	}
	for k, v := range entry.Data {
		if k == "layer" {
			continue
		}
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	b.WriteByte(' ')
	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return []byte(b.String()), nil
}
