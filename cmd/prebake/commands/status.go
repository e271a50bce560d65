package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
	"git.home.luguber.info/inful/prebake/internal/plan"
	"git.home.luguber.info/inful/prebake/internal/version"
)

// StatusCmd implements the 'status' command.
type StatusCmd struct {
	Target string `arg:"" name:"target" help:"Product to query"`
}

func (s *StatusCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	g.Logger = newLogger(cfg, root.Verbose, os.Stderr)
	targets, err := parseTargets([]string{s.Target})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return withEngine(ctx, cfg, g.Logger, func(e *engine) error {
		valid, err := e.status(ctx, targets[0])
		if err != nil {
			return err
		}
		word := "stale"
		if valid {
			word = "up-to-date"
		}
		if _, err := fmt.Fprintln(root.stdout(), word); err != nil {
			return err
		}
		if ev := e.lastPublished(ctx, targets[0]); ev != nil {
			_, err = fmt.Fprintf(root.stdout(), "last published: %s (build %s at %s)\n",
				ev.Status, ev.BuildID, ev.Time.Format(time.RFC3339))
		}
		return err
	})
}

// ProductsCmd implements the 'products' command.
type ProductsCmd struct{}

func (p *ProductsCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	pl, err := plan.LoadFile(cfg.Plan)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(root.stdout(), 0, 4, 2, ' ', 0)
	for _, name := range pl.ProductNames() {
		prod := pl.Products[name]
		label := name.String()
		for _, param := range prod.Relation.Params() {
			label += " <" + param.Name + ">"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", label, prod.Help)
	}
	return w.Flush()
}

// WhichCmd implements the 'which' command.
type WhichCmd struct {
	Path string `arg:"" name:"path" help:"File path, absolute or relative to the client root"`
}

func (w *WhichCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	pl, err := plan.LoadFile(cfg.Plan)
	if err != nil {
		return err
	}
	rel := filepath.ToSlash(w.Path)
	if filepath.IsAbs(w.Path) {
		var ok bool
		if rel, ok = under(cfg.Root, w.Path); !ok {
			return foundation.ValidationError("path is outside the client root").WithContext("path", w.Path).Build()
		}
	}
	name, ok := pl.ProducerOf(rel)
	if !ok {
		return foundation.NotFoundError("no product produces path").WithContext("path", rel).Build()
	}
	_, err = fmt.Fprintln(root.stdout(), name)
	return err
}

// VersionCmd implements the 'version' command.
type VersionCmd struct{}

func (v *VersionCmd) Run(_ *Global, root *CLI) error {
	_, err := fmt.Fprintf(root.stdout(), "prebake %s\n", version.String())
	return err
}
