package modules

import (
	"net"
	"testing"

	"github.com/maximthomas/goradius/pkg/notify"
	"github.com/maximthomas/goradius/pkg/rcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"layeh.com/radius"
)

func newMailInstance(t *testing.T, props map[string]interface{}) (*Instance, *notify.TestSender) {
	props["sender"] = map[string]interface{}{"type": "test"}
	inst, err := NewInstance("notify", "mail", props)
	require.NoError(t, err)
	return inst, inst.Module.(*Mail).sender.(*notify.TestSender)
}

func TestMailOnReject(t *testing.T) {
	inst, sender := newMailInstance(t, map[string]interface{}{
		"to":       "{{.UserName}}@example.com",
		"template": `{{.UserName}} rejected: {{index .Reply "Reply-Message"}}`,
	})

	r := accessRequest("bob")
	r.Client = net.ParseIP("10.0.0.5")
	r.ReplyCode = radius.CodeAccessReject
	r.Reply.Set("Reply-Message", "bad password")
	assert.Equal(t, rcode.OK, inst.Call(MethodPostAuth, r))

	msgs := sender.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "bob@example.com", msgs[0].To)
	assert.Equal(t, "Access-Reject for bob", msgs[0].Subject)
	assert.Equal(t, "bob rejected: bad password", msgs[0].Text)

	r.ReplyCode = radius.CodeAccessAccept
	assert.Equal(t, rcode.Noop, inst.Call(MethodPostAuth, r))
	assert.Len(t, sender.Messages(), 1)
}

func TestMailOnAccept(t *testing.T) {
	inst, sender := newMailInstance(t, map[string]interface{}{
		"to":       "noc@example.com",
		"onAccept": true,
		"onReject": false,
	})
	r := accessRequest("alice")
	r.Client = net.ParseIP("10.0.0.5")
	r.ReplyCode = radius.CodeAccessAccept
	assert.Equal(t, rcode.OK, inst.Call(MethodPostAuth, r))
	r.ReplyCode = radius.CodeAccessReject
	assert.Equal(t, rcode.Noop, inst.Call(MethodPostAuth, r))

	msgs := sender.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "User alice got Access-Accept from 10.0.0.5.\n", msgs[0].Text)
}

func TestMailConfigErrors(t *testing.T) {
	tests := []struct {
		name  string
		props map[string]interface{}
	}{
		{"missing to", map[string]interface{}{"sender": map[string]interface{}{"type": "test"}}},
		{"bad template", map[string]interface{}{"to": "a@b", "template": "{{.UserName", "sender": map[string]interface{}{"type": "test"}}},
		{"unknown sender", map[string]interface{}{"to": "a@b", "sender": map[string]interface{}{"type": "fax"}}},
		{"email without host", map[string]interface{}{"to": "a@b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewInstance("notify", "mail", tt.props)
			assert.Error(t, err)
		})
	}
}
