package modules

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/maximthomas/goradius/pkg/crypt"
	"github.com/maximthomas/goradius/pkg/rcode"
	"github.com/maximthomas/goradius/pkg/request"
	"github.com/maximthomas/goradius/pkg/session"
	"github.com/pkg/errors"
)

const (
	attrAcctStatusType      = "Acct-Status-Type"
	attrAcctSessionID       = "Acct-Session-Id"
	attrAcctUniqueSessionID = "Acct-Unique-Session-Id"
	attrAcctSessionTime     = "Acct-Session-Time"
	attrAcctInputOctets     = "Acct-Input-Octets"
	attrAcctOutputOctets    = "Acct-Output-Octets"
	attrAcctInputGigawords  = "Acct-Input-Gigawords"
	attrAcctOutputGigawords = "Acct-Output-Gigawords"
	attrAcctTerminateCause  = "Acct-Terminate-Cause"
	attrNASIPAddress        = "NAS-IP-Address"
	attrNASIdentifier       = "NAS-Identifier"
	attrNASPort             = "NAS-Port"
	attrFramedIPAddress     = "Framed-IP-Address"
)

// Acct-Status-Type values.
const (
	acctStart         = 1
	acctStop          = 2
	acctInterimUpdate = 3
	acctOn            = 7
	acctOff           = 8
)

var acctStatusNames = map[string]int{
	"start":          acctStart,
	"stop":           acctStop,
	"interim-update": acctInterimUpdate,
	"alive":          acctInterimUpdate,
	"accounting-on":  acctOn,
	"accounting-off": acctOff,
}

var uniqueIDAttributes = []string{"User-Name", attrAcctSessionID, attrNASIPAddress, attrNASIdentifier, attrNASPort}

// Acct tracks accounting sessions and counts them for Simultaneous-Use checks.
type Acct struct {
	BaseModule
	DataStore session.DataStore

	repo   session.Repository
	cancel context.CancelFunc
}

func init() {
	RegisterModule("acct", newAcct)
}

func newAcct(base BaseModule) (Module, error) {
	a := &Acct{}
	if err := base.decode(a); err != nil {
		return nil, err
	}
	a.BaseModule = base
	return a, nil
}

func (a *Acct) Instantiate(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	repo, err := session.NewRepository(ctx, a.DataStore)
	if err != nil {
		cancel()
		return errors.Wrapf(err, "module %s", a.Name)
	}
	a.repo = repo
	a.cancel = cancel
	return nil
}

func (a *Acct) Detach() error {
	if a.cancel != nil {
		a.cancel()
	}
	return nil
}

// Sessions exposes the store, nil before Instantiate.
func (a *Acct) Sessions() session.Repository {
	return a.repo
}

func uniqueSessionID(r *request.Request) string {
	parts := make([]string, len(uniqueIDAttributes))
	for i, name := range uniqueIDAttributes {
		parts[i] = r.Packet.Value(name)
	}
	return crypt.MD5(strings.Join(parts, ","))
}

func (a *Acct) PreAcct(r *request.Request) (rcode.Code, error) {
	if r.Packet.Has(attrAcctUniqueSessionID) {
		return rcode.Noop, nil
	}
	r.Packet.Set(attrAcctUniqueSessionID, uniqueSessionID(r))
	return rcode.Updated, nil
}

func acctStatus(r *request.Request) (int, bool) {
	v, ok := r.Packet.Find(attrAcctStatusType)
	if !ok {
		return 0, false
	}
	if n, err := strconv.Atoi(v.Value); err == nil {
		return n, true
	}
	n, ok := acctStatusNames[strings.ToLower(v.Value)]
	return n, ok
}

func (a *Acct) Accounting(r *request.Request) (rcode.Code, error) {
	if a.repo == nil {
		return rcode.Fail, errors.Errorf("module %s is not instantiated", a.Name)
	}
	status, ok := acctStatus(r)
	if !ok {
		r.Logger().WithField("module", a.Name).Debug("request has no valid Acct-Status-Type")
		return rcode.Invalid, nil
	}
	if status != acctStart && status != acctStop && status != acctInterimUpdate {
		// Accounting-On/Off and vendor specific types are accepted as is.
		return rcode.Noop, nil
	}

	id := r.Packet.Value(attrAcctUniqueSessionID)
	if id == "" {
		id = uniqueSessionID(r)
	}
	ctx := r.Context()
	now := time.Now()
	s, err := a.repo.Get(ctx, id)
	found := err == nil
	if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		return rcode.Fail, err
	}
	if !found {
		s = a.newSession(id, r, now)
	}
	applyStatus(&s, found, status, r, now)

	if found {
		err = a.repo.Update(ctx, s)
	} else if _, err = a.repo.Create(ctx, s); errors.Is(err, session.ErrSessionExists) {
		// A retransmission or a concurrent packet created it first.
		r.Logger().WithField("module", a.Name).Debugf("session %s already exists, updating it", id)
		if s, err = a.repo.Get(ctx, id); err != nil {
			return rcode.Fail, err
		}
		applyStatus(&s, true, status, r, now)
		err = a.repo.Update(ctx, s)
	}
	if err != nil {
		return rcode.Fail, err
	}
	return rcode.OK, nil
}

func applyStatus(s *session.Session, found bool, status int, r *request.Request, now time.Time) {
	applyCounters(s, r, now)
	switch status {
	case acctStart:
		s.Open = true
	case acctInterimUpdate:
		if !found {
			s.Open = true
		}
	case acctStop:
		s.TerminateCause = r.Packet.Value(attrAcctTerminateCause)
		s.Close(now)
	}
}

func (a *Acct) newSession(id string, r *request.Request, now time.Time) session.Session {
	s := session.Session{
		ID:               id,
		AcctSessionID:    r.Packet.Value(attrAcctSessionID),
		UserName:         r.UserName(),
		NASIPAddress:     r.Packet.Value(attrNASIPAddress),
		NASIdentifier:    r.Packet.Value(attrNASIdentifier),
		NASPort:          r.Packet.Value(attrNASPort),
		FramedIPAddress:  r.Packet.Value(attrFramedIPAddress),
		CallingStationID: r.Packet.Value(attrCallingStationID),
		StartedAt:        now,
	}
	if secs, ok := uintValue(r, attrAcctSessionTime); ok {
		s.StartedAt = now.Add(-time.Duration(secs) * time.Second)
	}
	return s
}

func applyCounters(s *session.Session, r *request.Request, now time.Time) {
	s.UpdatedAt = now
	if v, ok := uintValue(r, attrAcctSessionTime); ok {
		s.SessionTime = uint32(v)
	}
	if v, ok := uintValue(r, attrAcctInputOctets); ok {
		gw, _ := uintValue(r, attrAcctInputGigawords)
		s.InputOctets = gw<<32 | v
	}
	if v, ok := uintValue(r, attrAcctOutputOctets); ok {
		gw, _ := uintValue(r, attrAcctOutputGigawords)
		s.OutputOctets = gw<<32 | v
	}
	if v := r.Packet.Value(attrFramedIPAddress); v != "" {
		s.FramedIPAddress = v
	}
}

func uintValue(r *request.Request, name string) (uint64, bool) {
	v, ok := r.Packet.Find(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(v.Value, 10, 32)
	return n, err == nil
}

func (a *Acct) CheckSimul(r *request.Request) (rcode.Code, error) {
	if a.repo == nil {
		return rcode.Fail, errors.Errorf("module %s is not instantiated", a.Name)
	}
	name := r.UserName()
	if name == "" {
		return rcode.Noop, nil
	}
	count, err := a.repo.CountOpen(r.Context(), name)
	if err != nil {
		return rcode.Fail, err
	}
	r.SimulCount = count
	return rcode.OK, nil
}
