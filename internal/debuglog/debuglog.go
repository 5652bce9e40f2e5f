// Package debuglog gates chatty per-update log lines behind the --debug
// flag so the default output stays readable at fix rates of several Hz.
package debuglog

import (
	"log"
	"sync/atomic"
)

var enabled atomic.Bool

func Enable() {
	enabled.Store(true)
}

func Enabled() bool {
	return enabled.Load()
}

func Printf(format string, args ...any) {
	if !enabled.Load() {
		return
	}
	log.Printf(format, args...)
}
