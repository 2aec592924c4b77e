package modules

import (
	"crypto/subtle"

	"github.com/maximthomas/goradius/pkg/pairs"
	"github.com/maximthomas/goradius/pkg/rcode"
	"github.com/maximthomas/goradius/pkg/request"
)

const (
	attrUserPassword      = "User-Password"
	attrCleartextPassword = "Cleartext-Password"
	attrAuthType          = "Auth-Type"
	attrReplyMessage      = "Reply-Message"
)

// PAP checks User-Password against a Cleartext-Password that an earlier
// authorize module put into the control list.
type PAP struct {
	BaseModule
	RejectMessage string
}

func init() {
	RegisterModule("pap", newPAP)
}

func newPAP(base BaseModule) (Module, error) {
	p := &PAP{}
	if err := base.decode(p); err != nil {
		return nil, err
	}
	p.BaseModule = base
	return p, nil
}

func (p *PAP) Authorize(r *request.Request) (rcode.Code, error) {
	if !r.Packet.Has(attrUserPassword) || !r.Control.Has(attrCleartextPassword) || r.Control.Has(attrAuthType) {
		return rcode.Noop, nil
	}
	r.Control.Move(pairs.List{pairs.NewWithOp(attrAuthType, pairs.OpSet, p.Name)})
	return rcode.Updated, nil
}

func (p *PAP) Authenticate(r *request.Request) (rcode.Code, error) {
	password, ok := r.Packet.Find(attrUserPassword)
	if !ok {
		r.Logger().Debug("User-Password attribute is missing")
		return rcode.Invalid, nil
	}
	known, ok := r.Control.Find(attrCleartextPassword)
	if !ok {
		r.Logger().Debug("No Cleartext-Password for the user")
		return rcode.NotFound, nil
	}
	if subtle.ConstantTimeCompare([]byte(password.Value), []byte(known.Value)) != 1 {
		if p.RejectMessage != "" {
			r.Reply.Set(attrReplyMessage, p.RejectMessage)
		}
		return rcode.Reject, nil
	}
	return rcode.OK, nil
}
