package tools

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
	"git.home.luguber.info/inful/prebake/internal/glob"
	"git.home.luguber.info/inful/prebake/internal/plan"
)

func invocation(t *testing.T, h *Host, tool string, inputs, outputs []string, opts map[string]any) Invocation {
	t.Helper()
	ins, err := glob.ParseAll(inputs...)
	require.NoError(t, err)
	outs, err := glob.ParseAll(outputs...)
	require.NoError(t, err)
	inv := Invocation{
		Action: plan.Action{Tool: tool, Inputs: ins, Outputs: outs, Options: opts},
		Host:   h,
	}
	inv.Inputs, err = h.Matching(ins)
	require.NoError(t, err)
	return inv
}

func read(t *testing.T, dir, rel string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(b)
}

func TestToolBoxBuiltins(t *testing.T) {
	tb := NewToolBox(nil)
	assert.Equal(t, []string{"cp", "mkdir"}, tb.Names())
	cp, ok := tb.Lookup("cp")
	require.True(t, ok)
	mkdir, _ := tb.Lookup("mkdir")
	assert.NotEqual(t, cp.Signature(), mkdir.Signature())
	_, ok = tb.Lookup("missing")
	assert.False(t, ok)
}

func TestToolBoxListeners(t *testing.T) {
	tb := NewToolBox(nil)
	var heard []string
	cancel := tb.Subscribe(func(name string) { heard = append(heard, name) })

	cc := plan.ToolSpec{Name: "cc", Command: "gcc", Args: []string{"{in}"}}
	tb.Register(NewExecTool(cc))
	assert.Empty(t, heard, "a new tool changes nothing that was built")

	tb.Register(NewExecTool(cc))
	assert.Empty(t, heard, "same signature")

	cc.Args = []string{"-O2", "{in}"}
	tb.Register(NewExecTool(cc))
	assert.Equal(t, []string{"cc"}, heard)

	tb.Remove("cc")
	assert.Equal(t, []string{"cc", "cc"}, heard)
	tb.Remove("cc")
	assert.Len(t, heard, 2)

	cancel()
	tb.Register(NewExecTool(cc))
	tb.Remove("cc")
	assert.Len(t, heard, 2)
}

func TestToolBoxApply(t *testing.T) {
	tb := NewToolBox(nil)
	err := tb.Apply(map[string]plan.ToolSpec{
		"cp": {Name: "cp"},
		"cc": {Name: "cc", Command: "gcc"},
	})
	require.NoError(t, err)
	_, ok := tb.Lookup("cc")
	assert.True(t, ok)

	err = tb.Apply(map[string]plan.ToolSpec{"nope": {Name: "nope"}})
	require.Error(t, err)
	assert.True(t, foundation.HasCategory(err, foundation.CategoryConfig))
}

func TestCopyTool(t *testing.T) {
	h, _ := newTestHost(t)
	for _, p := range []string{"foo/a.txt", "foo/b/c.txt", "other/x.txt"} {
		put(t, h.WorkingDir(), p, "content of "+p)
	}
	inv := invocation(t, h, "cp", []string{"foo/**"}, []string{"baz/**"}, nil)
	assert.Equal(t, []string{"foo/a.txt", "foo/b/c.txt"}, inv.Inputs)

	cp, _ := NewToolBox(nil).Lookup("cp")
	ok, err := cp.Run(t.Context(), inv)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "content of foo/a.txt", read(t, h.WorkingDir(), "baz/a.txt"))
	assert.Equal(t, "content of foo/b/c.txt", read(t, h.WorkingDir(), "baz/b/c.txt"))
	assert.NoFileExists(t, filepath.Join(h.WorkingDir(), "baz", "x.txt"))
}

func TestCopyToolPairsGlobs(t *testing.T) {
	h, _ := newTestHost(t)
	put(t, h.WorkingDir(), "src/a.c", "a")
	put(t, h.WorkingDir(), "inc/a.h", "h")
	inv := invocation(t, h, "cp", []string{"src/*.c", "inc/*.h"}, []string{"out/c/*.c", "out/h/*.h"}, nil)

	cp, _ := NewToolBox(nil).Lookup("cp")
	ok, err := cp.Run(t.Context(), inv)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", read(t, h.WorkingDir(), "out/c/a.c"))
	assert.Equal(t, "h", read(t, h.WorkingDir(), "out/h/a.h"))

	inv = invocation(t, h, "cp", []string{"src/*.c", "inc/*.h"}, []string{"x/*", "y/*", "z/*"}, nil)
	_, err = cp.Run(t.Context(), inv)
	assert.Error(t, err, "three outputs cannot pair with two inputs")
}

func TestCopyToolImpossibleTransform(t *testing.T) {
	h, _ := newTestHost(t)
	put(t, h.WorkingDir(), "a/b.txt", "x")
	inv := invocation(t, h, "cp", []string{"a/b.txt"}, []string{"out/*.txt"}, nil)
	cp, _ := NewToolBox(nil).Lookup("cp")
	ok, err := cp.Run(t.Context(), inv)
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, foundation.HasCategory(err, foundation.CategoryToolExecution))
}

func TestMkdirTool(t *testing.T) {
	h, _ := newTestHost(t)
	inv := invocation(t, h, "mkdir", nil, []string{"lib/obj/**.o"}, map[string]any{"dirs": []any{"gen/include"}})
	mkdir, _ := NewToolBox(nil).Lookup("mkdir")
	ok, err := mkdir.Run(t.Context(), inv)
	require.NoError(t, err)
	require.True(t, ok)
	assert.DirExists(t, filepath.Join(h.WorkingDir(), "lib", "obj"))
	assert.DirExists(t, filepath.Join(h.WorkingDir(), "gen", "include"))

	inv.Action.Options = map[string]any{"dirs": []any{"../client/oops"}}
	_, err = mkdir.Run(t.Context(), inv)
	assert.Error(t, err)
}
