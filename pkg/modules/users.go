package modules

import (
	"sort"
	"strings"

	"github.com/maximthomas/goradius/pkg/pairs"
	"github.com/maximthomas/goradius/pkg/rcode"
	"github.com/maximthomas/goradius/pkg/request"
	"github.com/maximthomas/goradius/pkg/user"
	"github.com/pkg/errors"
)

const (
	replyPrefix   = "reply:"
	controlPrefix = "control:"
	checkPrefix   = "check:"
)

// Users looks accounts up in a user data store and checks their passwords.
type Users struct {
	BaseModule
	DataStore user.Config
	Breaker   user.BreakerConfig

	repo user.Repository
}

func init() {
	RegisterModule("users", newUsers)
}

func newUsers(base BaseModule) (Module, error) {
	u := &Users{}
	if err := base.decode(u); err != nil {
		return nil, err
	}
	u.BaseModule = base
	repo, err := user.NewRepository(u.DataStore)
	if err != nil {
		return nil, errors.Wrapf(err, "module %s", base.Name)
	}
	u.repo = user.WithBreaker(base.Name, repo, u.Breaker)
	return u, nil
}

func (u *Users) Authorize(r *request.Request) (rcode.Code, error) {
	name := r.UserName()
	if name == "" {
		return rcode.Noop, nil
	}
	usr, exists, err := u.repo.GetUser(r.Context(), name)
	if err != nil {
		return u.backendError(r, err)
	}
	if !exists {
		return rcode.NotFound, nil
	}

	// Properties are "check:Name" items or "<list>:Name" updates of a request list.
	updates := make(map[*pairs.List]pairs.List)
	var order []*pairs.List
	keys := make([]string, 0, len(usr.Properties))
	for k := range usr.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.HasPrefix(k, checkPrefix) {
			matched, err := checkItem(r, strings.TrimPrefix(k, checkPrefix), usr.Properties[k])
			if err != nil {
				return rcode.Fail, errors.Wrapf(err, "user %s", name)
			}
			if !matched {
				r.Logger().Debugf("check item %s of user %s does not match", k, name)
				return rcode.NotFound, nil
			}
			continue
		}
		listName, attr, ok := strings.Cut(k, ":")
		if !ok {
			continue
		}
		target := r.List(listName)
		if target == nil || target == &r.Packet {
			r.Logger().Debugf("ignoring property %s of user %s", k, name)
			continue
		}
		if _, seen := updates[target]; !seen {
			order = append(order, target)
		}
		updates[target] = append(updates[target], pairs.NewWithOp(attr, pairs.OpSet, usr.Properties[k]))
	}
	for _, target := range order {
		target.Move(updates[target])
	}
	if !r.Control.Has(attrAuthType) {
		r.Control.Set(attrAuthType, u.Name)
	}
	return rcode.Updated, nil
}

// checkItem matches a check item written as "op value" against the request.
func checkItem(r *request.Request, name, expr string) (bool, error) {
	check, err := pairs.Parse(name + " " + expr)
	if err != nil {
		return false, err
	}
	if !check.Operator().IsCheck() {
		check.Op = pairs.OpCmpEq
	}
	return r.Packet.Check(check)
}

func (u *Users) Authenticate(r *request.Request) (rcode.Code, error) {
	password, ok := r.Packet.Find(attrUserPassword)
	if !ok {
		r.Logger().Debug("User-Password attribute is missing")
		return rcode.Invalid, nil
	}
	valid, err := u.repo.ValidatePassword(r.Context(), r.UserName(), password.Value)
	if err != nil {
		return u.backendError(r, err)
	}
	if !valid {
		return rcode.Reject, nil
	}
	return rcode.OK, nil
}

func (u *Users) backendError(r *request.Request, err error) (rcode.Code, error) {
	if errors.Is(err, user.ErrUnavailable) {
		r.Logger().WithField("module", u.Name).Warn("user store is unavailable")
		return rcode.Fail, nil
	}
	return rcode.Fail, err
}
