package tools

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
	"git.home.luguber.info/inful/prebake/internal/glob"
	"git.home.luguber.info/inful/prebake/internal/logfields"
)

// Host is the set of services a tool may use while it runs: spawning
// processes and manipulating paths, all rooted at the build's working
// directory.
type Host struct {
	dir        string
	clientRoot string
	logger     *slog.Logger

	mu    sync.Mutex
	procs []*Process
}

// NewHost returns a Host for a working directory. Process arguments that
// reach into clientRoot are rejected.
func NewHost(workingDir, clientRoot string, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{dir: workingDir, clientRoot: clientRoot, logger: logger}
}

// WorkingDir returns the absolute working directory.
func (h *Host) WorkingDir() string { return h.dir }

// Logger returns the logger of the build the tool runs in.
func (h *Host) Logger() *slog.Logger { return h.logger }

// Join joins path elements with "/".
func (h *Host) Join(elem ...string) string { return filepath.ToSlash(filepath.Join(elem...)) }

// Dirname returns the parent of a "/" separated path.
func (h *Host) Dirname(p string) string {
	d := filepath.ToSlash(filepath.Dir(filepath.FromSlash(p)))
	if d == "." {
		return ""
	}
	return d
}

// Transform returns a function mapping paths matched by in to paths matched
// by out. See glob.Transform.
func (h *Host) Transform(in, out *glob.Pattern) (func(string) (string, bool), error) {
	return glob.Transform(in, out)
}

// Abs resolves a working-directory relative path.
func (h *Host) Abs(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(h.dir, filepath.FromSlash(rel))
}

// check rejects arguments that resolve into the client directory; tools
// must work on the copies in the working directory.
func (h *Host) check(arg string) error {
	if h.clientRoot == "" || arg == "" {
		return nil
	}
	p := h.Abs(arg)
	if within(h.clientRoot, p) && !within(h.dir, p) {
		h.logger.Warn("Possible attempt to touch client dir", logfields.Path(arg))
		return foundation.ToolError("do not touch files in the client directory during builds").
			WithContext("arg", arg).Build()
	}
	return nil
}

func within(dir, p string) bool {
	rel, err := filepath.Rel(dir, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Spawn prepares a process running name with args in the working
// directory. It does not start it.
func (h *Host) Spawn(ctx context.Context, name string, args ...string) (*Process, error) {
	if name == "" {
		return nil, foundation.ToolError("no command specified").Build()
	}
	for _, a := range args {
		if err := h.check(a); err != nil {
			return nil, err
		}
	}
	// #nosec G204 -- running tool commands is the point
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = h.dir
	out := &lineLogger{logger: h.logger, process: name}
	cmd.Stdout = out
	cmd.Stderr = out
	return &Process{host: h, name: name, cmd: cmd, out: out, done: make(chan struct{})}, nil
}

// Matching returns the working-directory relative paths of regular files
// matched by globs, grouped by glob in declaration order and sorted by name
// within a glob. A path matched by several globs is listed once.
func (h *Host) Matching(globs []*glob.Pattern) ([]string, error) {
	var out []string
	seen := map[string]struct{}{}
	for _, g := range globs {
		base := g.PathContainingAllMatches(h.dir)
		var hits []string
		err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(h.dir, p)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if g.Match(rel) {
				hits = append(hits, rel)
			}
			return nil
		})
		if err != nil {
			return nil, foundation.FileSystemError("scan working directory").WithCause(err).Build()
		}
		slices.Sort(hits)
		for _, p := range hits {
			if _, dup := seen[p]; !dup {
				seen[p] = struct{}{}
				out = append(out, p)
			}
		}
	}
	return out, nil
}

// CopyFile copies a working-directory file, creating parent directories.
func (h *Host) CopyFile(from, to string) error {
	src, dst := h.Abs(from), h.Abs(to)
	if err := h.check(dst); err != nil {
		return err
	}
	in, err := os.Open(src) // #nosec G304 -- paths are confined to the working dir
	if err != nil {
		return foundation.FileSystemError("open copy source").WithCause(err).WithContext("path", from).Build()
	}
	defer func() { _ = in.Close() }()
	info, err := in.Stat()
	if err != nil {
		return foundation.FileSystemError("stat copy source").WithCause(err).WithContext("path", from).Build()
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return foundation.FileSystemError("create directory").WithCause(err).WithContext("path", to).Build()
	}
	// #nosec G304 -- paths are confined to the working dir
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return foundation.FileSystemError("create copy").WithCause(err).WithContext("path", to).Build()
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return foundation.FileSystemError("copy file").WithCause(err).WithContext("path", to).Build()
	}
	return out.Close()
}

func (h *Host) track(p *Process) {
	h.mu.Lock()
	h.procs = append(h.procs, p)
	h.mu.Unlock()
}

// KillOpen terminates every process that was started but never waited on,
// logging each, and returns a process error naming them. It returns nil when
// every process was waited on.
func (h *Host) KillOpen() error {
	h.mu.Lock()
	procs := h.procs
	h.procs = nil
	h.mu.Unlock()

	var leaked []string
	for _, p := range procs {
		if p.waitedFor() {
			continue
		}
		p.Kill()
		h.logger.Error("Aborted still running process", logfields.Process(p.name))
		leaked = append(leaked, p.name)
	}
	if len(leaked) == 0 {
		return nil
	}
	return foundation.ProcessError("aborted still running process "+strings.Join(leaked, ", ")).
		WithContext("processes", leaked).Build()
}

// Process is one external invocation. Every started process must be waited
// on before the tool returns.
type Process struct {
	host *Host
	name string
	cmd  *exec.Cmd
	out  *lineLogger

	mu       sync.Mutex
	started  bool
	waited   bool
	closers  []io.Closer
	done     chan struct{}
	exitCode int
	err      error
}

// Name returns the command name.
func (p *Process) Name() string { return p.name }

// ReadFrom streams a working-directory file to the process's input.
func (p *Process) ReadFrom(rel string) error {
	path := p.host.Abs(rel)
	if err := p.host.check(path); err != nil {
		return err
	}
	f, err := os.Open(path) // #nosec G304 -- checked against the client dir
	if err != nil {
		return foundation.FileSystemError("open process input").WithCause(err).WithContext("path", rel).Build()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cmd.Stdin = f
	p.closers = append(p.closers, f)
	return nil
}

// WriteTo streams the process's output to a working-directory file.
func (p *Process) WriteTo(rel string) error {
	path := p.host.Abs(rel)
	if err := p.host.check(path); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return foundation.FileSystemError("create output directory").WithCause(err).WithContext("path", rel).Build()
	}
	f, err := os.Create(path) // #nosec G304 -- checked against the client dir
	if err != nil {
		return foundation.FileSystemError("create process output").WithCause(err).WithContext("path", rel).Build()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cmd.Stdout = f
	p.closers = append(p.closers, f)
	return nil
}

// Env adds an environment variable.
func (p *Process) Env(key, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd.Env == nil {
		p.cmd.Env = os.Environ()
	}
	p.cmd.Env = append(p.cmd.Env, key+"="+value)
}

// Run starts the process. Calling it again is a no-op.
func (p *Process) Run() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	if err := p.cmd.Start(); err != nil {
		for _, c := range p.closers {
			_ = c.Close()
		}
		return foundation.ToolError("failed to start process").WithCause(err).WithContext("process", p.name).Build()
	}
	p.started = true
	p.host.track(p)
	go p.reap()
	return nil
}

func (p *Process) reap() {
	err := p.cmd.Wait()
	p.out.flush()
	p.mu.Lock()
	for _, c := range p.closers {
		_ = c.Close()
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		p.exitCode = exitErr.ExitCode() & 0xff
	default:
		p.err = err
	}
	p.mu.Unlock()
	close(p.done)
}

// Wait starts the process if needed and blocks until it exits, returning
// its exit status masked to 8 bits.
func (p *Process) Wait(ctx context.Context) (int, error) {
	if err := p.Run(); err != nil {
		return -1, err
	}
	p.mu.Lock()
	p.waited = true
	p.mu.Unlock()
	select {
	case <-p.done:
	case <-ctx.Done():
		p.Kill()
		return -1, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return -1, foundation.ToolError("process failed").WithCause(p.err).WithContext("process", p.name).Build()
	}
	return p.exitCode, nil
}

// Kill terminates the process and reports whether it was still running.
func (p *Process) Kill() bool {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
	}
	_ = p.cmd.Process.Kill()
	<-p.done
	return true
}

func (p *Process) waitedFor() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waited
}

// lineLogger forwards process output to the build log one line at a time.
type lineLogger struct {
	logger  *slog.Logger
	process string

	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *lineLogger) Write(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Write(b)
	for {
		line, err := l.buf.ReadString('\n')
		if err != nil {
			// Keep the partial line for the next write.
			l.buf.Reset()
			l.buf.WriteString(line)
			return len(b), nil
		}
		l.emit(strings.TrimSuffix(line, "\n"))
	}
}

func (l *lineLogger) flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buf.Len() > 0 {
		l.emit(l.buf.String())
		l.buf.Reset()
	}
}

func (l *lineLogger) emit(line string) {
	l.logger.Info(line, logfields.Process(l.process))
}
