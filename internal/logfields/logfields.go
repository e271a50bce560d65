package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyProduct    = "product"
	KeyTool       = "tool"
	KeyPath       = "path"
	KeyAddress    = "address"
	KeyBuildID    = "build_id"
	KeyCount      = "count"
	KeyProcess    = "process"
	KeyExitCode   = "exit_code"
	KeyDir        = "dir"
	KeyDurationMS = "duration_ms"
	KeyJob        = "job"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Product(name string) slog.Attr { return slog.String(KeyProduct, name) }
func Tool(name string) slog.Attr    { return slog.String(KeyTool, name) }
func Path(p string) slog.Attr       { return slog.String(KeyPath, p) }
func Address(a string) slog.Attr    { return slog.String(KeyAddress, a) }
func BuildID(id string) slog.Attr   { return slog.String(KeyBuildID, id) }
func Count(n int) slog.Attr         { return slog.Int(KeyCount, n) }
func Process(cmd string) slog.Attr  { return slog.String(KeyProcess, cmd) }
func ExitCode(code int) slog.Attr   { return slog.Int(KeyExitCode, code) }
func Dir(d string) slog.Attr        { return slog.String(KeyDir, d) }
func Job(name string) slog.Attr     { return slog.String(KeyJob, name) }
func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000)
}
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
