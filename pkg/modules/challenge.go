package modules

import (
	"context"

	"github.com/maximthomas/goradius/pkg/crypt"
	"github.com/maximthomas/goradius/pkg/rcode"
	"github.com/maximthomas/goradius/pkg/request"
	"github.com/pkg/errors"
	"layeh.com/radius"
)

const stateNonceLength = 16

// Challenge answers the first Access-Request with an Access-Challenge and accepts
// the follow-up carrying the State it handed out.
type Challenge struct {
	BaseModule
	Message       string
	EncryptionKey string
	key           []byte
}

func init() {
	RegisterModule("challenge", newChallenge)
}

func newChallenge(base BaseModule) (Module, error) {
	c := &Challenge{Message: "This is a challenge"}
	if err := base.decode(c); err != nil {
		return nil, err
	}
	c.BaseModule = base
	return c, nil
}

func (c *Challenge) Instantiate(_ context.Context) error {
	if c.EncryptionKey == "" {
		return nil
	}
	key, err := crypt.DecodeKey(c.EncryptionKey)
	if err != nil {
		return errors.Wrapf(err, "module %s", c.Name)
	}
	c.key = key
	return nil
}

func (c *Challenge) Authorize(r *request.Request) (rcode.Code, error) {
	if state, ok := r.Packet.Find("State"); ok {
		if c.key != nil {
			if _, err := crypt.Decrypt(c.key, state.Value); err != nil {
				r.Logger().Warnf("State attribute was not issued by us: %v", err)
				return rcode.Invalid, nil
			}
		}
		r.Logger().Debug("Found reply to access challenge")
		return rcode.OK, nil
	}

	state, err := crypt.RandomString(stateNonceLength, true, true)
	if err != nil {
		return rcode.Fail, err
	}
	if c.key != nil {
		if state, err = crypt.Encrypt(c.key, state); err != nil {
			return rcode.Fail, err
		}
	}
	r.Reply.Set("Reply-Message", c.Message)
	r.Reply.Set("State", state)
	r.ReplyCode = radius.CodeAccessChallenge
	r.Logger().Debug("Sending Access-Challenge")
	return rcode.Handled, nil
}

func (c *Challenge) Authenticate(_ *request.Request) (rcode.Code, error) {
	return rcode.OK, nil
}

func (c *Challenge) PreAcct(_ *request.Request) (rcode.Code, error) {
	return rcode.OK, nil
}

func (c *Challenge) Accounting(_ *request.Request) (rcode.Code, error) {
	return rcode.OK, nil
}

func (c *Challenge) CheckSimul(r *request.Request) (rcode.Code, error) {
	r.SimulCount = 0
	return rcode.OK, nil
}
