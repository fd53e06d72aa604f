package go_chat_rooms

import (
    "fmt"
    "log"
    "strings"
)

// Logger formats the messages logged by this package and by the other
// packages of the chat server.
//
// Every message is logged as:
//
//     [LEVEL] pkg/module: Message.
//         key: "value"
//
// A nil *log.Logger discards everything.
type Logger struct {
    logger *log.Logger
    pkg string
    debug bool
}

// NewLogger create a Logger that prefixes every module with `pkg`. Debug
// messages are only logged if `debug` is set.
func NewLogger(logger *log.Logger, pkg string, debug bool) Logger {
    return Logger {
        logger: logger,
        pkg: pkg,
        debug: debug,
    }
}

func (l Logger) print(level, module, msg string, kv []interface{}) {
    var b strings.Builder

    b.WriteString("[" + level + "] " + l.pkg + "/" + module + ": " + msg)
    for i := 0; i + 1 < len(kv); i += 2 {
        fmt.Fprintf(&b, "\n\t%v: \"%+v\"", kv[i], kv[i+1])
    }

    l.logger.Print(b.String())
}

// Debug log `msg` only if debug messages were enabled.
func (l Logger) Debug(module, msg string, kv ...interface{}) {
    if l.debug && l.logger != nil {
        l.print("DEBUG", module, msg, kv)
    }
}

// Info log `msg`.
func (l Logger) Info(module, msg string, kv ...interface{}) {
    if l.logger != nil {
        l.print("INFO", module, msg, kv)
    }
}

// Error log `msg`.
func (l Logger) Error(module, msg string, kv ...interface{}) {
    if l.logger != nil {
        l.print("ERROR", module, msg, kv)
    }
}
