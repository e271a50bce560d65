package buildlog

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/prebake/internal/logfields"
)

// Handler is a slog.Handler that records every record at or above its level
// in a Store, and passes records through to an inner handler.
type Handler struct {
	inner   slog.Handler
	store   Store
	buildID string
	product string
	level   slog.Level
	attrs   []slog.Attr
	groups  []string
}

// NewHandler returns a handler for a new build of product with a fresh
// build ID. inner may be nil.
func NewHandler(store Store, inner slog.Handler, product string, level slog.Level) *Handler {
	return &Handler{inner: inner, store: store, buildID: uuid.NewString(), product: product, level: level}
}

// BuildID identifies the build the handler records.
func (h *Handler) BuildID() string { return h.buildID }

// Logger returns a logger writing through h, tagged with the build ID and
// product.
func (h *Handler) Logger() *slog.Logger {
	return slog.New(h).With(logfields.BuildID(h.buildID), logfields.Product(h.product))
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level || (h.inner != nil && h.inner.Enabled(ctx, level))
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.inner != nil && h.inner.Enabled(ctx, r.Level) {
		err = h.inner.Handle(ctx, r)
	}
	if r.Level < h.level {
		return err
	}
	attrs := make(map[string]any)
	prefix := strings.Join(h.groups, ".")
	for _, a := range h.attrs {
		// Handler-level attrs were captured with their own group prefix.
		flatten(attrs, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		flatten(attrs, prefix, a)
		return true
	})
	delete(attrs, logfields.KeyBuildID)
	delete(attrs, logfields.KeyProduct)
	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}
	e := Entry{BuildID: h.buildID, Product: h.product, Time: t, Level: r.Level, Message: r.Message, Attrs: attrs}
	if serr := h.store.Append(context.WithoutCancel(ctx), e); serr != nil && err == nil {
		err = serr
	}
	return err
}

func (h *Handler) WithAttrs(as []slog.Attr) slog.Handler {
	c := *h
	if h.inner != nil {
		c.inner = h.inner.WithAttrs(as)
	}
	prefix := strings.Join(h.groups, ".")
	c.attrs = slices.Clone(h.attrs)
	for _, a := range as {
		if prefix != "" {
			a = slog.Group(prefix, a)
		}
		c.attrs = append(c.attrs, a)
	}
	return &c
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	if h.inner != nil {
		c.inner = h.inner.WithGroup(name)
	}
	c.groups = append(slices.Clone(h.groups), name)
	return &c
}

func flatten(out map[string]any, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			if a.Key == "" {
				flatten(out, prefix, ga)
			} else {
				flatten(out, key, ga)
			}
		}
		return
	}
	switch a.Value.Kind() {
	case slog.KindDuration:
		out[key] = a.Value.Duration().String()
	case slog.KindTime:
		out[key] = a.Value.Time().Format(time.RFC3339Nano)
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			out[key] = err.Error()
			return
		}
		out[key] = a.Value.Any()
	default:
		out[key] = a.Value.Any()
	}
}
