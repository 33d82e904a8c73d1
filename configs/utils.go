package configs

import (
	"fmt"
	"github.com/goccy/go-json"
	"log"
	"time"
)

// DPrintf prints a timestamped debug-gated line.
func DPrintf(format string, a ...interface{}) {
	if ShowDebugInfo {
		emit(format, a...)
	}
}

// TPrintf prints a test-gated line (quieter than DPrintf, noisier than
// nothing): transport/heartbeat/election chatter lives here.
func TPrintf(format string, a ...interface{}) {
	if ShowTestInfo {
		emit(format, a...)
	}
}

func emit(format string, a ...interface{}) {
	line := time.Now().Format("15:04:05.00") + " <---> " + format
	if LogToFile {
		log.Printf(line, a...)
	} else {
		fmt.Printf(line+"\n", a...)
	}
}

// Warn logs when cond is false and warnings are enabled; returns cond
// unchanged so callers can chain it.
func Warn(cond bool, msg string) bool {
	if ShowWarnings && !cond {
		emit("[WARNING] :" + msg)
	}
	return cond
}

// CheckError panics on unexpected, unrecoverable setup errors (config
// load, listener bind) — never on an expected runtime condition.
func CheckError(err error) {
	if err != nil {
		panic(err.Error())
	}
}

// Assert panics on a violated program invariant.
func Assert(cond bool, msg string) bool {
	if !cond {
		panic("[ERROR] assertion failed: " + msg)
	}
	return cond
}

func JToString(v interface{}) string {
	byt, _ := json.Marshal(v)
	return string(byt)
}

func JPrint(v interface{}) {
	fmt.Println(JToString(v))
}
