package auth

import (
	"encoding/json"

	"github.com/coocood/freecache"
	"github.com/maximthomas/goradius/pkg/pairs"
	"github.com/maximthomas/goradius/pkg/request"
	"github.com/pkg/errors"
	"layeh.com/radius"
)

const (
	attrState = "State"

	stateCacheSize = 1024 * 1024
	// stateTTL is in seconds, long enough for a user to answer a challenge.
	stateTTL = 60
)

// stateStore carries the session-state list from an Access-Challenge to the
// Access-Request answering it. Entries are keyed by the State attribute and
// used once.
type stateStore struct {
	cache *freecache.Cache
	ttl   int
}

func newStateStore(size, ttl int) *stateStore {
	return &stateStore{cache: freecache.NewCache(size), ttl: ttl}
}

// restore loads the session-state saved for the State attribute of r.
func (s *stateStore) restore(r *request.Request) {
	state, ok := r.Packet.Find(attrState)
	if !ok || state.Value == "" {
		return
	}
	key := []byte(state.Value)
	data, err := s.cache.Get(key)
	if errors.Is(err, freecache.ErrNotFound) {
		return
	}
	if err != nil {
		r.Logger().Warnf("error reading session-state: %v", err)
		return
	}
	s.cache.Del(key)
	var list pairs.List
	if err := json.Unmarshal(data, &list); err != nil {
		r.Logger().Warnf("corrupted session-state: %v", err)
		return
	}
	r.State = list
	r.Logger().Debugf("restored %d session-state attribute(s)", len(list))
}

// save keeps the session-state of a challenged request under the State
// attribute of the reply.
func (s *stateStore) save(r *request.Request, reply radius.Code) {
	if reply != radius.CodeAccessChallenge || len(r.State) == 0 {
		return
	}
	state := r.Reply.Value(attrState)
	if state == "" {
		r.Logger().Debug("Access-Challenge without State, dropping session-state")
		return
	}
	data, err := json.Marshal(r.State)
	if err != nil {
		r.Logger().Warnf("error encoding session-state: %v", err)
		return
	}
	if err := s.cache.Set([]byte(state), data, s.ttl); err != nil {
		r.Logger().Warnf("error saving session-state: %v", err)
	}
}
