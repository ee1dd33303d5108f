// Package klog wraps log/slog with the per-subsystem tagging the teacher
// does ad hoc with fmt.Printf prefixes (e.g. ufs/ufs.go's "reboot %v ...").
// See SPEC_FULL.md's AMBIENT STACK section for why slog rather than a
// third-party structured logger.
package klog

import (
	"log/slog"
	"os"
)

var level = new(slog.LevelVar)

var base = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
	Level: level,
}))

// Boot returns a logger tagged with the given subsystem name, e.g.
// klog.Boot("swap") logs every record with subsystem=swap.
func Boot(subsystem string) *slog.Logger {
	return base.With("subsystem", subsystem)
}

// SetLevel adjusts the minimum level logged across all subsystems,
// including loggers already handed out by Boot.
func SetLevel(l slog.Level) {
	level.Set(l)
}
