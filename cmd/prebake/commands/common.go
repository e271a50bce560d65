package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/prebake/internal/config"
	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
	"git.home.luguber.info/inful/prebake/internal/plan"
)

// Global context passed to subcommands.
type Global struct {
	Logger *slog.Logger
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"prebake.yaml" type:"path"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Bake       BakeCmd     `cmd:"" help:"Bring products up to date"`
	Status     StatusCmd   `cmd:"" help:"Report whether a product is up to date"`
	Products   ProductsCmd `cmd:"" help:"List the products the plan defines"`
	Which      WhichCmd    `cmd:"" help:"Name the product that produces a file"`
	Watch      WatchCmd    `cmd:"" help:"Keep products up to date as files change"`
	VersionCmd VersionCmd  `cmd:"" name:"version" help:"Print build metadata"`

	Out io.Writer `kong:"-"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	slog.SetDefault(c.Logger())
	return nil
}

// Logger returns the bootstrap logger used until a configuration is loaded.
func (c *CLI) Logger() *slog.Logger {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (c *CLI) stdout() io.Writer {
	if c.Out != nil {
		return c.Out
	}
	return os.Stdout
}

// ExitError carries a specific exit code out of a command. Err, when set,
// is reported before exiting.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// loadConfig reads the configuration file, falling back to defaults rooted
// next to it when it does not exist.
func loadConfig(root *CLI) (*config.Config, error) {
	return config.LoadOrDefault(root.Config)
}

// newLogger builds the process logger from the logging configuration. The
// verbose flag forces debug level.
func newLogger(cfg *config.Config, verbose bool, w io.Writer) *slog.Logger {
	level := cfg.Logging.Level.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.Logging.Format == config.LogFormatJSON {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

func parseTargets(args []string) ([]plan.BoundName, error) {
	out := make([]plan.BoundName, 0, len(args))
	for _, a := range args {
		n, err := plan.ParseBoundName(a)
		if err != nil {
			return nil, foundation.ValidationError("invalid product name").WithCause(err).WithContext("product", a).Build()
		}
		out = append(out, n)
	}
	return out, nil
}
