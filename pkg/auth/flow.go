package auth

import (
	"strconv"
	"strings"

	"github.com/maximthomas/goradius/pkg/log"
	"github.com/maximthomas/goradius/pkg/metrics"
	"github.com/maximthomas/goradius/pkg/modules"
	"github.com/maximthomas/goradius/pkg/pairs"
	"github.com/maximthomas/goradius/pkg/rcode"
	"github.com/maximthomas/goradius/pkg/request"
	"github.com/pkg/errors"
	"layeh.com/radius"
)

const (
	attrAuthType        = "Auth-Type"
	attrSimultaneousUse = "Simultaneous-Use"
	attrReplyMessage    = "Reply-Message"

	authTypeAccept = "accept"
	authTypeReject = "reject"

	simultaneousUseMessage = "You are already logged in - access denied"
)

// Sections lists module instance names per processing section.
type Sections struct {
	Authorize    []string `mapstructure:"authorize"`
	Authenticate []string `mapstructure:"authenticate"`
	PostAuth     []string `mapstructure:"postAuth"`
	PreAcct      []string `mapstructure:"preacct"`
	Accounting   []string `mapstructure:"accounting"`
	Session      []string `mapstructure:"session"`
}

// Processor runs RADIUS requests through the configured sections.
type Processor struct {
	authorize    Section
	authenticate Section
	postAuth     Section
	preAcct      Section
	accounting   Section
	session      Section
	states       *stateStore
}

// NewProcessor resolves section entries against instances.
func NewProcessor(instances modules.Instances, sections Sections) (*Processor, error) {
	build := func(method modules.Method, names []string) (Section, error) {
		s := Section{Method: method}
		for _, name := range names {
			inst, ok := instances[name]
			if !ok {
				return s, errors.Errorf("%s section references undefined module %q", method, name)
			}
			if !inst.Implements(method) {
				log.WithField("module", "auth").Warnf("%s section lists module %q which has no %s callback, it always returns noop", method, name, method)
			}
			s.Instances = append(s.Instances, inst)
		}
		return s, nil
	}
	p := &Processor{states: newStateStore(stateCacheSize, stateTTL)}
	var err error
	for _, item := range []struct {
		target *Section
		method modules.Method
		names  []string
	}{
		{&p.authorize, modules.MethodAuthorize, sections.Authorize},
		{&p.authenticate, modules.MethodAuthenticate, sections.Authenticate},
		{&p.postAuth, modules.MethodPostAuth, sections.PostAuth},
		{&p.preAcct, modules.MethodPreAcct, sections.PreAcct},
		{&p.accounting, modules.MethodAccounting, sections.Accounting},
		{&p.session, modules.MethodSession, sections.Session},
	} {
		if *item.target, err = build(item.method, item.names); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Process handles r and returns the reply code. Zero means no reply is sent.
func (p *Processor) Process(r *request.Request) radius.Code {
	var reply radius.Code
	switch r.Code {
	case radius.CodeAccessRequest:
		p.states.restore(r)
		reply = p.processAccess(r)
		p.states.save(r, reply)
	case radius.CodeAccountingRequest:
		reply = p.processAccounting(r)
	default:
		r.Logger().Warnf("unsupported packet code %s", r.Code)
	}
	r.ReplyCode = reply
	replyName := "none"
	if reply != 0 {
		replyName = reply.String()
	}
	metrics.Get().Request(r.Code.String(), replyName)
	r.Logger().Infof("%s for %q: %s", r.Code, r.UserName(), replyName)
	return reply
}

func (p *Processor) processAccess(r *request.Request) radius.Code {
	code := p.authorize.Run(r)
	switch code {
	case rcode.Reject, rcode.Fail, rcode.Invalid, rcode.Userlock:
		return p.finish(r, radius.CodeAccessReject)
	case rcode.Handled:
		if r.ReplyCode != 0 {
			return r.ReplyCode
		}
		r.Logger().Debug("authorize handled the request without a reply code")
		return p.finish(r, radius.CodeAccessReject)
	}

	if !p.checkSimultaneousUse(r) {
		r.Reply.Set(attrReplyMessage, simultaneousUseMessage)
		return p.finish(r, radius.CodeAccessReject)
	}

	switch code = p.runAuthenticate(r); code {
	case rcode.OK, rcode.Updated:
		return p.finish(r, radius.CodeAccessAccept)
	case rcode.Handled:
		if r.ReplyCode != 0 {
			return r.ReplyCode
		}
	}
	return p.finish(r, radius.CodeAccessReject)
}

// finish runs post_auth with the tentative reply code. A failing post_auth
// turns an accept into a reject.
func (p *Processor) finish(r *request.Request, reply radius.Code) radius.Code {
	r.ReplyCode = reply
	code := p.postAuth.Run(r)
	if reply == radius.CodeAccessAccept && (code == rcode.Reject || code == rcode.Fail) {
		r.Logger().Debugf("post_auth returned %s, rejecting", code)
		reply = radius.CodeAccessReject
		r.ReplyCode = reply
	}
	if reply == radius.CodeAccessReject {
		rejectReply(r)
	}
	return reply
}

// rejectReply keeps only the attributes that are allowed in an Access-Reject.
func rejectReply(r *request.Request) {
	var kept pairs.List
	for _, p := range r.Reply {
		name := strings.ToLower(p.Name)
		if name == "reply-message" || strings.HasPrefix(name, "eap-") || name == "message-authenticator" {
			kept = append(kept, p)
		}
	}
	r.Reply = kept
}

func (p *Processor) runAuthenticate(r *request.Request) rcode.Code {
	authType, ok := r.Control.Find(attrAuthType)
	if !ok {
		if len(p.authenticate.Instances) == 0 {
			r.Logger().Debug("no Auth-Type and no authenticate modules")
			return rcode.Reject
		}
		return p.authenticate.Run(r)
	}
	switch strings.ToLower(authType.Value) {
	case authTypeAccept:
		return rcode.OK
	case authTypeReject:
		return rcode.Reject
	}
	inst, ok := p.authenticate.Find(authType.Value)
	if !ok {
		r.Logger().Warnf("Auth-Type %q is not in the authenticate section", authType.Value)
		return rcode.Fail
	}
	return runInstances(modules.MethodAuthenticate, []*modules.Instance{inst}, r)
}

// checkSimultaneousUse runs the session section when the control list limits
// concurrent sessions and reports whether the user is below the limit.
func (p *Processor) checkSimultaneousUse(r *request.Request) bool {
	limitPair, ok := r.Control.Find(attrSimultaneousUse)
	if !ok || len(p.session.Instances) == 0 {
		return true
	}
	limit, err := strconv.Atoi(limitPair.Value)
	if err != nil || limit < 0 {
		r.Logger().Warnf("bad Simultaneous-Use value %q", limitPair.Value)
		return true
	}
	r.SimulCount = 0
	switch code := p.session.Run(r); code {
	case rcode.OK, rcode.Updated, rcode.Noop:
	default:
		r.Logger().Warnf("session section returned %s, skipping Simultaneous-Use check", code)
		return true
	}
	if r.SimulCount >= limit {
		r.Logger().Infof("user %q has %d sessions, limit %d", r.UserName(), r.SimulCount, limit)
		return false
	}
	return true
}

func (p *Processor) processAccounting(r *request.Request) radius.Code {
	switch code := p.preAcct.Run(r); code {
	case rcode.Reject, rcode.Fail, rcode.Invalid, rcode.Userlock:
		return 0
	}
	switch p.accounting.Run(r) {
	case rcode.OK, rcode.Updated, rcode.Noop, rcode.Handled:
		return radius.CodeAccountingResponse
	}
	return 0
}
