package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/prebake/internal/config"
	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
	"git.home.luguber.info/inful/prebake/internal/logfields"
)

// NATSPublisher publishes events to a JetStream subject and keeps the
// latest event per product in a KV bucket.
type NATSPublisher struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	kv      jetstream.KeyValue
	subject string
	logger  *slog.Logger
}

// NewNATSPublisher connects to NATS and makes sure the stream and bucket
// exist.
func NewNATSPublisher(ctx context.Context, cfg config.NotifyConfig, logger *slog.Logger) (*NATSPublisher, error) {
	if !cfg.Enabled() {
		return nil, foundation.ConfigError("notifications are disabled").Build()
	}
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(cfg.NATSURL, nats.Name("prebake"))
	if err != nil {
		return nil, foundation.NetworkError("failed to connect to NATS").WithCause(err).WithContext("url", cfg.NATSURL).Build()
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, foundation.NetworkError("failed to create JetStream context").WithCause(err).Build()
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        streamName(cfg.Subject),
		Description: "prebake product status transitions",
		Subjects:    []string{cfg.Subject},
		MaxAge:      7 * 24 * time.Hour,
	}); err != nil {
		conn.Close()
		return nil, foundation.NetworkError("failed to create status stream").WithCause(err).WithContext("subject", cfg.Subject).Build()
	}
	kv, err := js.KeyValue(ctx, cfg.KVBucket)
	if err != nil {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      cfg.KVBucket,
			Description: "Latest prebake status per product",
			History:     1,
		})
	}
	if err != nil {
		conn.Close()
		return nil, foundation.NetworkError("failed to initialize KV bucket").WithCause(err).WithContext("bucket", cfg.KVBucket).Build()
	}

	logger.Info("NATS status notifications enabled",
		slog.String("url", cfg.NATSURL),
		slog.String("subject", cfg.Subject),
		slog.String("kv_bucket", cfg.KVBucket))
	return &NATSPublisher{conn: conn, js: js, kv: kv, subject: cfg.Subject, logger: logger}, nil
}

// streamName derives a stream name from a subject; stream names may not
// contain '.', '*' or '>'.
func streamName(subject string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "*", "ANY", ">", "ALL").Replace(subject))
}

// Notify publishes e and records it as the product's latest status.
func (p *NATSPublisher) Notify(ctx context.Context, e Event) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		p.logger.Warn("Failed to encode status event", logfields.Product(e.Product), logfields.Error(err))
		return
	}
	if _, err := p.js.Publish(ctx, p.subject, data); err != nil {
		p.logger.Warn("Failed to publish status event", logfields.Product(e.Product), logfields.Error(err))
	}
	if _, err := p.kv.Put(ctx, key(e.Product), data); err != nil {
		p.logger.Warn("Failed to store latest status", logfields.Product(e.Product), logfields.Error(err))
	}
}

// Latest returns the last event recorded for product, or nil.
func (p *NATSPublisher) Latest(ctx context.Context, product string) (*Event, error) {
	entry, err := p.kv.Get(ctx, key(product))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get status entry: %w", err)
	}
	var e Event
	if err := json.Unmarshal(entry.Value(), &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status entry: %w", err)
	}
	return &e, nil
}

// Close closes the NATS connection.
func (p *NATSPublisher) Close() error {
	if p.conn != nil {
		p.conn.Close()
	}
	return nil
}
