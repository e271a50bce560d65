package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/prebake/internal/plan"
)

func TestExecToolPerInput(t *testing.T) {
	requireShell(t)
	h, _ := newTestHost(t)
	put(t, h.WorkingDir(), "src/a.txt", "A")
	put(t, h.WorkingDir(), "src/sub/b.txt", "B")

	tool := NewExecTool(plan.ToolSpec{Name: "copy", Command: "cp", Args: []string{"{in}", "{out}"}})
	inv := invocation(t, h, "copy", []string{"src/**.txt"}, []string{"out/**.txt"}, nil)
	ok, err := tool.Run(t.Context(), inv)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A", read(t, h.WorkingDir(), "out/a.txt"))
	assert.Equal(t, "B", read(t, h.WorkingDir(), "out/sub/b.txt"))
}

func TestExecToolBatch(t *testing.T) {
	requireShell(t)
	h, _ := newTestHost(t)
	put(t, h.WorkingDir(), "src/a.txt", "A")
	put(t, h.WorkingDir(), "src/b.txt", "B")
	put(t, h.WorkingDir(), "out/.keep", "")

	tool := NewExecTool(plan.ToolSpec{
		Name:    "concat",
		Command: "sh",
		Args:    []string{"-c", `d="$1"; shift; cat "$@" > "$d/all.txt"`, "sh", "{out}", "{in}"},
		Batch:   true,
	})
	inv := invocation(t, h, "concat", []string{"src/*.txt"}, []string{"out/*.txt"}, nil)
	ok, err := tool.Run(t.Context(), inv)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "AB", read(t, h.WorkingDir(), "out/all.txt"))
}

func TestExecToolFailure(t *testing.T) {
	requireShell(t)
	h, logs := newTestHost(t)
	tool := NewExecTool(plan.ToolSpec{Name: "fail", Command: "sh", Args: []string{"-c", "exit 2"}})
	inv := invocation(t, h, "fail", nil, nil, nil)
	ok, err := tool.Run(t.Context(), inv)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, logs.String(), "Process failed")
}

func TestExecToolExtraArgs(t *testing.T) {
	requireShell(t)
	h, _ := newTestHost(t)
	tool := NewExecTool(plan.ToolSpec{Name: "sh", Command: "sh", Args: []string{"-c"}})
	inv := invocation(t, h, "sh", nil, nil, map[string]any{"args": []any{"echo hi > greeting.txt"}})
	ok, err := tool.Run(t.Context(), inv)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hi\n", read(t, h.WorkingDir(), "greeting.txt"))

	inv.Action.Options = map[string]any{"args": "not a list"}
	_, err = tool.Run(t.Context(), inv)
	assert.Error(t, err)
}

func TestExecToolSignatureAndSources(t *testing.T) {
	a := NewExecTool(plan.ToolSpec{Name: "gen", Command: "./scripts/gen.sh"})
	b := NewExecTool(plan.ToolSpec{Name: "gen", Command: "./scripts/gen.sh", Args: []string{"-v"}})
	assert.NotEqual(t, a.Signature(), b.Signature())
	assert.Equal(t, []string{"scripts/gen.sh"}, a.SourceFiles())

	assert.Empty(t, NewExecTool(plan.ToolSpec{Name: "cc", Command: "gcc"}).SourceFiles())
	assert.Empty(t, NewExecTool(plan.ToolSpec{Name: "cc", Command: "/usr/bin/gcc"}).SourceFiles())
}
