package backend

import (
	"context"
	"crypto/tls"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/amirbrooks/tasker-engine/internal/store"
)

// Redis keeps the snapshot as one JSON string value.
type Redis struct {
	client *redis.Client
	key    string
	log    log.FieldLogger
}

func NewRedis(client *redis.Client, key string, logger log.FieldLogger) *Redis {
	if client == nil {
		panic("backend.NewRedis: client is nil")
	}
	if strings.TrimSpace(key) == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Redis{client: client, key: key, log: logger.WithField("component", "backend.redis")}
}

// ParseRedisOptions accepts a redis:// URL or the "host:port,password=..,ssl=true"
// connection string form.
func ParseRedisOptions(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}

func (r *Redis) Key() string { return r.key }

func (r *Redis) Load(ctx context.Context) (store.Snapshot, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return store.DefaultSnapshot(), nil
		}
		return store.Snapshot{}, err
	}
	s, err := decode(FormatJSON, data)
	if err != nil {
		r.log.WithError(err).WithField("key", r.key).Warn("unreadable snapshot; using defaults")
		return store.DefaultSnapshot(), nil
	}
	return s, nil
}

func (r *Redis) Save(ctx context.Context, s store.Snapshot) error {
	data, err := encode(FormatJSON, s)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key, data, 0).Err()
}

func (r *Redis) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}
