package session

import (
	"context"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// DataStore selects and configures a session store.
type DataStore struct {
	Type       string                 `mapstructure:"type"`
	Properties map[string]interface{} `mapstructure:"properties"`
}

type storeProperties struct {
	Retention time.Duration

	URL        string
	Database   string
	Collection string

	Addrs    []string
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// NewRepository builds the store named by ds.Type. ctx bounds background
// goroutines of the in-memory store.
func NewRepository(ctx context.Context, ds DataStore) (Repository, error) {
	var p storeProperties
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(ds.Properties); err != nil {
		return nil, errors.Wrapf(err, "bad %s session store properties", ds.Type)
	}

	switch ds.Type {
	case "", "memory":
		return NewInMemorySessionRepository(ctx, p.Retention), nil
	case "mongo", "mongodb":
		if p.Database == "" {
			p.Database = "goradius"
		}
		if p.Collection == "" {
			p.Collection = "sessions"
		}
		return NewMongoSessionRepository(p.URL, p.Database, p.Collection, p.Retention)
	case "redis":
		addrs := p.Addrs
		if p.Addr != "" {
			addrs = append(addrs, p.Addr)
		}
		if len(addrs) == 0 {
			addrs = []string{"localhost:6379"}
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Username: p.Username,
			Password: p.Password,
			DB:       p.DB,
		})
		return NewRedisSessionRepository(client, p.Prefix, p.Retention), nil
	default:
		return nil, errors.Errorf("unknown session store type %q", ds.Type)
	}
}
