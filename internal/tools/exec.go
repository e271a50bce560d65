package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
	"git.home.luguber.info/inful/prebake/internal/logfields"
	"git.home.luguber.info/inful/prebake/internal/plan"
	"git.home.luguber.info/inful/prebake/internal/validity"
)

const (
	inPlaceholder  = "{in}"
	outPlaceholder = "{out}"
)

// ExecTool runs an external command, either once per input file or once
// for the whole batch.
type ExecTool struct {
	spec plan.ToolSpec
	sig  validity.Hash
}

// NewExecTool returns a tool running spec.Command.
func NewExecTool(spec plan.ToolSpec) *ExecTool {
	data, _ := json.Marshal(spec)
	return &ExecTool{spec: spec, sig: validity.NewHasher().WithString("exec").WithData(data).Sum()}
}

func (t *ExecTool) Name() string { return t.spec.Name }

func (t *ExecTool) Signature() validity.Hash { return t.sig }

// SourceFiles lists the command when it is a script inside the client
// directory, so edits to the script invalidate products that use it.
func (t *ExecTool) SourceFiles() []string {
	if isClientScript(t.spec.Command) {
		return []string{filepath.ToSlash(filepath.Clean(t.spec.Command))}
	}
	return nil
}

func isClientScript(cmd string) bool {
	return !filepath.IsAbs(cmd) && strings.ContainsRune(cmd, '/')
}

func (t *ExecTool) command(host *Host) string {
	if isClientScript(t.spec.Command) {
		return filepath.Join(host.clientRoot, filepath.FromSlash(t.spec.Command))
	}
	return t.spec.Command
}

// extraArgs reads the action's "args" option.
func extraArgs(inv Invocation) ([]string, error) {
	raw, ok := inv.Action.Options["args"]
	if !ok {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, foundation.ToolError("args option must be a list").Build()
	}
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = fmt.Sprint(a)
	}
	return out, nil
}

func (t *ExecTool) Run(ctx context.Context, inv Invocation) (bool, error) {
	extra, err := extraArgs(inv)
	if err != nil {
		return false, err
	}
	args := slices.Concat(t.spec.Args, extra)
	needsOut := slices.Contains(args, outPlaceholder)

	if t.spec.Batch || !slices.Contains(args, inPlaceholder) {
		var outs []string
		if needsOut {
			for _, g := range inv.Action.Outputs {
				dir := g.PathContainingAllMatches("")
				if dir == "" {
					dir = "."
				}
				outs = append(outs, filepath.ToSlash(dir))
			}
		}
		return t.runOnce(ctx, inv, expand(args, inv.Inputs, outs))
	}

	m := NewMapper(inv)
	for _, in := range inv.Inputs {
		var outs []string
		if needsOut {
			out, err := m.Output(in)
			if err != nil {
				return false, err
			}
			outs = []string{out}
			if dir := inv.Host.Dirname(out); dir != "" {
				if err := mkdirs(inv.Host, []string{inv.Host.Abs(dir)}); err != nil {
					return false, err
				}
			}
		}
		if ok, err := t.runOnce(ctx, inv, expand(args, []string{in}, outs)); !ok || err != nil {
			return ok, err
		}
	}
	return true, nil
}

func (t *ExecTool) runOnce(ctx context.Context, inv Invocation, args []string) (bool, error) {
	p, err := inv.Host.Spawn(ctx, t.command(inv.Host), args...)
	if err != nil {
		return false, err
	}
	code, err := p.Wait(ctx)
	if err != nil {
		return false, err
	}
	if code != 0 {
		inv.Host.Logger().Warn("Process failed", logfields.Tool(t.Name()), logfields.Process(p.Name()), logfields.ExitCode(code))
		return false, nil
	}
	return true, nil
}

// expand replaces each "{in}" or "{out}" argument with the given paths.
func expand(args, ins, outs []string) []string {
	out := make([]string, 0, len(args)+len(ins))
	for _, a := range args {
		switch a {
		case inPlaceholder:
			out = append(out, ins...)
		case outPlaceholder:
			out = append(out, outs...)
		default:
			out = append(out, a)
		}
	}
	return out
}
