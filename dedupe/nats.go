package dedupe

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// NatsStore claims keys in a JetStream key-value bucket. The bucket TTL
// expires claims; Create fails with ErrKeyExists for live keys.
type NatsStore struct {
	nc *nats.Conn
	kv jetstream.KeyValue
}

// NewNatsStore connects and creates (or updates) the claim bucket
func NewNatsStore(ctx context.Context, url, bucket string, ttl time.Duration) (*NatsStore, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "cdcrelay dedupe claims",
		TTL:         ttl,
		History:     1,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure dedupe bucket %s: %w", bucket, err)
	}

	log.Info().Str("bucket", bucket).Dur("ttl", ttl).Msg("NATS dedupe store ready")
	return &NatsStore{nc: nc, kv: kv}, nil
}

func (s *NatsStore) Claim(ctx context.Context, key string) (bool, error) {
	claimedAt := []byte(strconv.FormatInt(time.Now().UnixNano(), 10))
	_, err := s.kv.Create(ctx, natsKey(key), claimedAt)
	if errors.Is(err, jetstream.ErrKeyExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *NatsStore) Release(ctx context.Context, key string) error {
	return s.kv.Delete(ctx, natsKey(key))
}

func (s *NatsStore) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}

// natsKey maps an arbitrary id onto the KV key alphabet [-_=.a-zA-Z0-9]
func natsKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}
