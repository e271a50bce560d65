package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
	"git.home.luguber.info/inful/prebake/internal/glob"
	"git.home.luguber.info/inful/prebake/internal/logfields"
	"git.home.luguber.info/inful/prebake/internal/validity"
)

// builtinVersion is folded into built-in signatures; bump it when a
// built-in's behavior changes so products built with it are rebuilt.
const builtinVersion = "1"

type builtinTool struct {
	name string
	run  func(ctx context.Context, inv Invocation) (bool, error)
}

func (b builtinTool) Name() string { return b.name }

func (b builtinTool) Signature() validity.Hash {
	return validity.NewHasher().WithString("builtin").WithString(b.name).WithString(builtinVersion).Sum()
}

func (b builtinTool) Run(ctx context.Context, inv Invocation) (bool, error) { return b.run(ctx, inv) }

// Builtins returns the tools every toolbox starts with.
func Builtins() []Tool {
	return []Tool{
		builtinTool{name: "cp", run: runCopy},
		builtinTool{name: "mkdir", run: runMkdir},
	}
}

func builtin(name string) (Tool, bool) {
	for _, t := range Builtins() {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// outputFor pairs the i-th input glob of an action with its output glob.
// With a single output glob every input maps onto it.
func outputFor(inv Invocation, i int) (*glob.Pattern, error) {
	outs := inv.Action.Outputs
	switch {
	case len(outs) == 1:
		return outs[0], nil
	case i < len(outs) && len(outs) == len(inv.Action.Inputs):
		return outs[i], nil
	}
	return nil, foundation.ToolError("cannot pair input and output globs").
		WithContext("inputs", len(inv.Action.Inputs)).WithContext("outputs", len(outs)).Build()
}

// Mapper maps each input of an invocation to its output path by pairing
// the action's input and output globs.
type Mapper struct {
	inv        Invocation
	transforms map[int]func(string) (string, bool)
}

// NewMapper returns a Mapper for inv.
func NewMapper(inv Invocation) *Mapper {
	return &Mapper{inv: inv, transforms: map[int]func(string) (string, bool){}}
}

// Output returns the output path for an input path.
func (m *Mapper) Output(input string) (string, error) {
	for i, in := range m.inv.Action.Inputs {
		if !in.Match(input) {
			continue
		}
		xform, ok := m.transforms[i]
		if !ok {
			out, err := outputFor(m.inv, i)
			if err != nil {
				return "", err
			}
			if xform, err = m.inv.Host.Transform(in, out); err != nil {
				return "", foundation.ToolError("no transform between globs").WithCause(err).
					WithContext("input", in.String()).WithContext("output", out.String()).Build()
			}
			m.transforms[i] = xform
		}
		if dest, ok := xform(input); ok {
			return dest, nil
		}
	}
	return "", foundation.ToolError("input matches no action glob").WithContext("path", input).Build()
}

// runCopy copies each input to the path its glob pair maps it to.
func runCopy(_ context.Context, inv Invocation) (bool, error) {
	m := NewMapper(inv)
	for _, in := range inv.Inputs {
		out, err := m.Output(in)
		if err != nil {
			return false, err
		}
		if out == in {
			continue
		}
		if err := inv.Host.CopyFile(in, out); err != nil {
			return false, err
		}
		inv.Host.Logger().Debug("Copied", logfields.Path(in), slog.String("to", out))
	}
	return true, nil
}

// runMkdir creates the directory that holds each output glob's matches,
// plus any listed under the "dirs" option.
func runMkdir(_ context.Context, inv Invocation) (bool, error) {
	dirs := make([]string, 0, len(inv.Action.Outputs))
	for _, g := range inv.Action.Outputs {
		dirs = append(dirs, g.PathContainingAllMatches(inv.Host.WorkingDir()))
	}
	if extra, ok := inv.Action.Options["dirs"].([]any); ok {
		for _, d := range extra {
			s, ok := d.(string)
			if !ok {
				return false, foundation.ToolError("mkdir dirs must be strings").WithContext("value", fmt.Sprint(d)).Build()
			}
			dirs = append(dirs, inv.Host.Abs(s))
		}
	}
	if err := mkdirs(inv.Host, dirs); err != nil {
		return false, err
	}
	return true, nil
}

func mkdirs(h *Host, dirs []string) error {
	for _, d := range dirs {
		if err := h.check(d); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Clean(d), 0o750); err != nil {
			return foundation.FileSystemError("mkdir").WithCause(err).WithContext("path", d).Build()
		}
	}
	return nil
}
