package modules

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/coocood/freecache"
	"github.com/maximthomas/goradius/pkg/pairs"
	"github.com/maximthomas/goradius/pkg/rcode"
	"github.com/maximthomas/goradius/pkg/request"
	"github.com/pkg/errors"
	"layeh.com/radius"
)

const minCacheSize = 512 * 1024

// Cache remembers reply and control attributes of accepted users so that a
// later authorize can restore them without hitting the backends.
type Cache struct {
	BaseModule
	Key        string
	TTL        int
	Size       int
	Attributes []string

	cache *freecache.Cache
}

type cacheEntry struct {
	Reply   pairs.List `json:"reply,omitempty"`
	Control pairs.List `json:"control,omitempty"`
}

func init() {
	RegisterModule("cache", newCache)
}

func newCache(base BaseModule) (Module, error) {
	c := &Cache{}
	if err := base.decode(c); err != nil {
		return nil, err
	}
	c.BaseModule = base
	if c.Key == "" {
		c.Key = "User-Name"
	}
	if c.TTL <= 0 {
		c.TTL = 60
	}
	if c.Size < minCacheSize {
		c.Size = 1024 * 1024
	}
	for _, a := range c.Attributes {
		if !strings.HasPrefix(a, replyPrefix) && !strings.HasPrefix(a, controlPrefix) {
			return nil, errors.Errorf("module %s: attribute %q must start with reply: or control:", base.Name, a)
		}
	}
	return c, nil
}

func (c *Cache) Instantiate(_ context.Context) error {
	c.cache = freecache.NewCache(c.Size)
	return nil
}

func (c *Cache) Detach() error {
	if c.cache != nil {
		c.cache.Clear()
	}
	return nil
}

func (c *Cache) key(r *request.Request) []byte {
	v := r.Packet.Value(c.Key)
	if v == "" {
		return nil
	}
	return []byte(v)
}

func (c *Cache) Authorize(r *request.Request) (rcode.Code, error) {
	key := c.key(r)
	if key == nil || c.cache == nil {
		return rcode.Noop, nil
	}
	data, err := c.cache.Get(key)
	if errors.Is(err, freecache.ErrNotFound) {
		return rcode.NotFound, nil
	}
	if err != nil {
		return rcode.Fail, err
	}
	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.cache.Del(key)
		return rcode.Fail, errors.Wrap(err, "corrupted cache entry")
	}
	r.Reply.Move(asSet(entry.Reply))
	r.Control.Move(asSet(entry.Control))
	r.Logger().WithField("module", c.Name).Debugf("cache hit for %s", key)
	return rcode.OK, nil
}

func (c *Cache) PostAuth(r *request.Request) (rcode.Code, error) {
	key := c.key(r)
	if key == nil || c.cache == nil {
		return rcode.Noop, nil
	}
	if r.ReplyCode != radius.CodeAccessAccept {
		c.cache.Del(key)
		return rcode.Noop, nil
	}
	entry := c.selectAttributes(r)
	data, err := json.Marshal(entry)
	if err != nil {
		return rcode.Fail, err
	}
	if err := c.cache.Set(key, data, c.TTL); err != nil {
		return rcode.Fail, errors.Wrap(err, "cache set")
	}
	return rcode.Updated, nil
}

func (c *Cache) selectAttributes(r *request.Request) cacheEntry {
	if len(c.Attributes) == 0 {
		return cacheEntry{Reply: r.Reply.Copy(), Control: r.Control.Copy()}
	}
	var entry cacheEntry
	for _, a := range c.Attributes {
		if strings.HasPrefix(a, replyPrefix) {
			entry.Reply = append(entry.Reply, r.Reply.FindAll(strings.TrimPrefix(a, replyPrefix))...)
		} else {
			entry.Control = append(entry.Control, r.Control.FindAll(strings.TrimPrefix(a, controlPrefix))...)
		}
	}
	return entry
}

// asSet turns the first pair of every name into := and the others into +=.
func asSet(l pairs.List) pairs.List {
	out := make(pairs.List, 0, len(l))
	seen := make(map[string]bool)
	for _, p := range l {
		op := pairs.OpAdd
		if !seen[p.Name] {
			op = pairs.OpSet
			seen[p.Name] = true
		}
		out = append(out, pairs.NewWithOp(p.Name, op, p.Value))
	}
	return out
}
