package request

import (
	"context"
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/maximthomas/goradius/pkg/log"
	"github.com/maximthomas/goradius/pkg/pairs"
	"github.com/sirupsen/logrus"
	"layeh.com/radius"
)

// Request is one RADIUS transaction as seen by modules.
type Request struct {
	ID         string
	Code       radius.Code
	ReplyCode  radius.Code
	Packet     pairs.List
	Reply      pairs.List
	Control    pairs.List
	State      pairs.List
	Client     net.IP
	SimulCount int

	ctx    context.Context
	logger logrus.FieldLogger
}

func New(ctx context.Context, code radius.Code, packet pairs.List) *Request {
	if ctx == nil {
		ctx = context.Background()
	}
	id := uuid.New().String()
	return &Request{
		ID:     id,
		Code:   code,
		Packet: packet,
		ctx:    ctx,
		logger: log.WithField("request_id", id),
	}
}

func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

func (r *Request) Logger() logrus.FieldLogger {
	if r.logger == nil {
		r.logger = log.WithField("request_id", r.ID)
	}
	return r.logger
}

func (r *Request) UserName() string {
	return r.Packet.Value("User-Name")
}

// List returns the list addressed by name: request, reply, control or state.
// Names are case insensitive. Unknown names return nil.
func (r *Request) List(name string) *pairs.List {
	switch strings.ToLower(name) {
	case "request", "packet":
		return &r.Packet
	case "reply":
		return &r.Reply
	case "control", "config":
		return &r.Control
	case "state", "session-state":
		return &r.State
	}
	return nil
}
