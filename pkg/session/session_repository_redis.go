package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// redisSessionRepository keeps every session as a JSON string under
// {prefix}session:{id} and indexes them per user in the set {prefix}user:{name}.
type redisSessionRepository struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

func NewRedisSessionRepository(client redis.UniversalClient, prefix string, retention time.Duration) Repository {
	if retention <= 0 {
		retention = defaultRetention
	}
	if prefix == "" {
		prefix = "goradius:"
	}
	return &redisSessionRepository{client: client, prefix: prefix, retention: retention}
}

func (sr *redisSessionRepository) sessionKey(id string) string {
	return sr.prefix + "session:" + id
}

func (sr *redisSessionRepository) userKey(userName string) string {
	return sr.prefix + "user:" + userName
}

func (sr *redisSessionRepository) ttl(session Session) time.Duration {
	if session.Open {
		return 0
	}
	return sr.retention
}

func (sr *redisSessionRepository) save(ctx context.Context, session Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	_, err = sr.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sr.sessionKey(session.ID), data, sr.ttl(session))
		pipe.SAdd(ctx, sr.userKey(session.UserName), session.ID)
		return nil
	})
	return errors.Wrap(err, "redis save session")
}

func (sr *redisSessionRepository) Create(ctx context.Context, session Session) (Session, error) {
	if session.ID == "" {
		return session, errors.New("session id is empty")
	}
	now := time.Now()
	if session.StartedAt.IsZero() {
		session.StartedAt = now
	}
	session.UpdatedAt = now
	data, err := json.Marshal(session)
	if err != nil {
		return session, err
	}
	created, err := sr.client.SetNX(ctx, sr.sessionKey(session.ID), data, sr.ttl(session)).Result()
	if err != nil {
		return session, errors.Wrap(err, "redis create session")
	}
	if !created {
		return session, errors.Wrapf(ErrSessionExists, "session %s", session.ID)
	}
	err = sr.client.SAdd(ctx, sr.userKey(session.UserName), session.ID).Err()
	return session, errors.Wrap(err, "redis create session")
}

func (sr *redisSessionRepository) Update(ctx context.Context, session Session) error {
	exists, err := sr.client.Exists(ctx, sr.sessionKey(session.ID)).Result()
	if err != nil {
		return errors.Wrap(err, "redis exists")
	}
	if exists == 0 {
		return ErrSessionNotFound
	}
	return sr.save(ctx, session)
}

func (sr *redisSessionRepository) Get(ctx context.Context, id string) (Session, error) {
	data, err := sr.client.Get(ctx, sr.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, errors.Wrap(err, "redis get session")
	}
	var session Session
	return session, errors.Wrap(json.Unmarshal(data, &session), "corrupted session")
}

func (sr *redisSessionRepository) Delete(ctx context.Context, id string) error {
	session, err := sr.Get(ctx, id)
	if err != nil {
		return err
	}
	_, err = sr.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sr.sessionKey(id))
		pipe.SRem(ctx, sr.userKey(session.UserName), id)
		return nil
	})
	return errors.Wrap(err, "redis delete session")
}

// ListByUser also drops index members whose session has expired.
func (sr *redisSessionRepository) ListByUser(ctx context.Context, userName string) ([]Session, error) {
	ids, err := sr.client.SMembers(ctx, sr.userKey(userName)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis list sessions")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sr.sessionKey(id)
	}
	values, err := sr.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis mget sessions")
	}
	var res []Session
	var stale []interface{}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var session Session
		if err := json.Unmarshal([]byte(s), &session); err != nil {
			return nil, errors.Wrap(err, "corrupted session")
		}
		res = append(res, session)
	}
	if len(stale) > 0 {
		sr.client.SRem(ctx, sr.userKey(userName), stale...)
	}
	sortSessions(res)
	return res, nil
}

func (sr *redisSessionRepository) CountOpen(ctx context.Context, userName string) (int, error) {
	sessions, err := sr.ListByUser(ctx, userName)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, s := range sessions {
		if s.Open {
			count++
		}
	}
	return count, nil
}
