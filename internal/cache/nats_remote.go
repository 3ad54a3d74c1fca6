package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSRemote stores entries in a JetStream key-value bucket. Keys are hex
// encoded because KV keys only allow a restricted alphabet; hex keeps
// prefixes intact so DeletePrefix can filter listed keys.
type NATSRemote struct {
	conn   *nats.Conn
	kv     jetstream.KeyValue
	bucket string
}

type natsEnvelope struct {
	Expires time.Time `json:"expires"`
	Data    []byte    `json:"data"`
}

// NewNATSRemote connects to url and opens (or creates) bucket.
func NewNATSRemote(ctx context.Context, url, bucket string, maxTTL time.Duration) (*NATSRemote, error) {
	conn, err := nats.Connect(url, nats.Name("storebuilder-cache"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kv, err := js.KeyValue(ctx, bucket)
	if err != nil {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: "storebuilder shared cache",
			History:     1,
			TTL:         maxTTL,
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create KV bucket: %w", err)
		}
		slog.Info("Created KV bucket for shared cache", "bucket", bucket)
	}
	return &NATSRemote{conn: conn, kv: kv, bucket: bucket}, nil
}

func natsKey(key string) string {
	return hex.EncodeToString([]byte(key))
}

// Get implements Remote.
func (r *NATSRemote) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := r.kv.Get(ctx, natsKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrMiss
		}
		return nil, err
	}
	var env natsEnvelope
	if err := json.Unmarshal(entry.Value(), &env); err != nil {
		return nil, err
	}
	if !time.Now().Before(env.Expires) {
		return nil, ErrMiss
	}
	return env.Data, nil
}

// Put implements Remote.
func (r *NATSRemote) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	data, err := json.Marshal(natsEnvelope{Expires: time.Now().Add(ttl), Data: value})
	if err != nil {
		return err
	}
	_, err = r.kv.Put(ctx, natsKey(key), data)
	return err
}

// Delete implements Remote.
func (r *NATSRemote) Delete(ctx context.Context, key string) error {
	err := r.kv.Delete(ctx, natsKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}

// DeletePrefix implements Remote.
func (r *NATSRemote) DeletePrefix(ctx context.Context, prefix string) error {
	lister, err := r.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil
		}
		return err
	}
	defer func() { _ = lister.Stop() }()

	hexPrefix := natsKey(prefix)
	var errs []error
	for k := range lister.Keys() {
		if strings.HasPrefix(k, hexPrefix) {
			if err := r.kv.Delete(ctx, k); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Close drains the connection.
func (r *NATSRemote) Close() error {
	if r.conn != nil {
		r.conn.Close()
	}
	return nil
}
