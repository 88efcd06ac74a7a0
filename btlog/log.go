// Package btlog provides the one structured logger the rest of the core
// pulls from, instead of every package standing up its own.
package btlog

import (
	"os"

	"github.com/charmbracelet/log"
)

var root = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	TimeFormat:      "15:04:05.000",
})

// Component returns a logger tagged with the owning component's name, e.g.
// btlog.Component("a2dp") or btlog.Component("serviceloop").
func Component(name string) *log.Logger {
	return root.WithPrefix(name)
}

// SetLevel adjusts verbosity for every logger derived from Component.
func SetLevel(level log.Level) {
	root.SetLevel(level)
}

// ParseLevel mirrors log.ParseLevel for the CLI's --log-level flag.
func ParseLevel(s string) (log.Level, error) {
	return log.ParseLevel(s)
}
