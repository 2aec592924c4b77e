package auth

import (
	"context"
	"strings"
	"testing"

	"github.com/maximthomas/goradius/pkg/log"
	"github.com/maximthomas/goradius/pkg/modules"
	"github.com/maximthomas/goradius/pkg/pairs"
	"github.com/maximthomas/goradius/pkg/request"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"layeh.com/radius"
)

// rule returns a policy module definition that always returns code and
// applies the given reply pairs.
func rule(code string, reply ...string) modules.Definition {
	return modules.Definition{Type: "policy", Properties: map[string]interface{}{
		"rules": []map[string]interface{}{{"condition": "true", "rcode": code, "reply": reply}},
	}}
}

func newTestProcessor(t *testing.T, defs map[string]modules.Definition, sections Sections) *Processor {
	instances, err := modules.LoadInstances(context.Background(), defs)
	require.NoError(t, err)
	t.Cleanup(func() { _ = instances.Detach() })
	p, err := NewProcessor(instances, sections)
	require.NoError(t, err)
	return p
}

func baseDefs() map[string]modules.Definition {
	return map[string]modules.Definition{
		"files": {Type: "users", Properties: map[string]interface{}{
			"dataStore": map[string]interface{}{"properties": map[string]interface{}{
				"users": []map[string]interface{}{
					{"id": "bob", "password": "hello", "properties": map[string]string{
						"reply:Session-Timeout":    "3600",
						"control:Simultaneous-Use": "1",
					}},
					{"id": "alice", "password": "wonderland"},
				},
			}},
		}},
		"acct": {},
		"pap":  {},
	}
}

func accessRequest(user, password string) *request.Request {
	return request.New(context.Background(), radius.CodeAccessRequest, pairs.List{
		pairs.New("User-Name", user),
		pairs.New("User-Password", password),
		pairs.New("NAS-IP-Address", "10.0.0.1"),
	})
}

func TestProcessAccess(t *testing.T) {
	p := newTestProcessor(t, baseDefs(), Sections{
		Authorize:    []string{"files"},
		Authenticate: []string{"files", "pap"},
		Session:      []string{"acct"},
		PreAcct:      []string{"acct"},
		Accounting:   []string{"acct"},
	})

	tests := []struct {
		name     string
		user     string
		password string
		reply    radius.Code
	}{
		{"accept", "bob", "hello", radius.CodeAccessAccept},
		{"wrong password", "bob", "bad", radius.CodeAccessReject},
		{"unknown user", "eve", "hello", radius.CodeAccessReject},
		{"other user", "alice", "wonderland", radius.CodeAccessAccept},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := accessRequest(tt.user, tt.password)
			assert.Equal(t, tt.reply, p.Process(r))
			assert.Equal(t, tt.reply, r.ReplyCode)
		})
	}

	r := accessRequest("bob", "hello")
	p.Process(r)
	assert.Equal(t, "3600", r.Reply.Value("Session-Timeout"))

	r = accessRequest("bob", "bad")
	p.Process(r)
	assert.False(t, r.Reply.Has("Session-Timeout"), "reject carries no session attributes")
}

func TestSimultaneousUse(t *testing.T) {
	p := newTestProcessor(t, baseDefs(), Sections{
		Authorize:    []string{"files"},
		Authenticate: []string{"files"},
		Session:      []string{"acct"},
		PreAcct:      []string{"acct"},
		Accounting:   []string{"acct"},
	})
	assert.Equal(t, radius.CodeAccessAccept, p.Process(accessRequest("bob", "hello")))

	start := request.New(context.Background(), radius.CodeAccountingRequest, pairs.List{
		pairs.New("User-Name", "bob"),
		pairs.New("Acct-Session-Id", "s1"),
		pairs.New("Acct-Status-Type", "1"),
	})
	assert.Equal(t, radius.CodeAccountingResponse, p.Process(start))

	r := accessRequest("bob", "hello")
	assert.Equal(t, radius.CodeAccessReject, p.Process(r))
	assert.Equal(t, simultaneousUseMessage, r.Reply.Value("Reply-Message"))
	assert.Equal(t, 1, r.SimulCount)

	assert.Equal(t, radius.CodeAccessAccept, p.Process(accessRequest("alice", "wonderland")))
}

func TestAuthType(t *testing.T) {
	defs := baseDefs()
	defs["accept_all"] = rule("updated", "Reply-Message := welcome")
	defs["set_accept"] = modules.Definition{Type: "policy", Properties: map[string]interface{}{
		"rules": []map[string]interface{}{{"condition": "true", "control": []string{"Auth-Type := Accept"}}},
	}}
	defs["set_reject"] = modules.Definition{Type: "policy", Properties: map[string]interface{}{
		"rules": []map[string]interface{}{{"condition": "true", "control": []string{"Auth-Type := Reject"}}},
	}}
	defs["set_unknown"] = modules.Definition{Type: "policy", Properties: map[string]interface{}{
		"rules": []map[string]interface{}{{"condition": "true", "control": []string{"Auth-Type := ldap"}}},
	}}

	fullSection := []string{"files", "accept_all"}
	tests := []struct {
		name         string
		authorize    []string
		authenticate []string
		reply        radius.Code
	}{
		{"accept short-circuit", []string{"set_accept"}, fullSection, radius.CodeAccessAccept},
		{"reject short-circuit", []string{"set_reject"}, fullSection, radius.CodeAccessReject},
		{"unknown auth type", []string{"set_unknown"}, fullSection, radius.CodeAccessReject},
		{"users selects itself", []string{"files"}, fullSection, radius.CodeAccessReject},
		{"no auth type runs the section", []string{"accept_all"}, []string{"accept_all"}, radius.CodeAccessAccept},
		{"no auth type and no modules", []string{"accept_all"}, nil, radius.CodeAccessReject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProcessor(t, defs, Sections{
				Authorize:    tt.authorize,
				Authenticate: tt.authenticate,
			})
			assert.Equal(t, tt.reply, p.Process(accessRequest("bob", "wrong")))
		})
	}
}

func TestAuthorizeResults(t *testing.T) {
	defs := map[string]modules.Definition{
		"ok":        rule("ok"),
		"noop":      rule("noop"),
		"notfound":  rule("notfound"),
		"fail":      rule("fail"),
		"userlock":  rule("userlock"),
		"handled":   rule("handled"),
		"challenge": {},
		"accept":    rule("ok"),
	}
	tests := []struct {
		name      string
		authorize []string
		reply     radius.Code
	}{
		{"fail rejects", []string{"ok", "fail"}, radius.CodeAccessReject},
		{"userlock rejects", []string{"userlock", "ok"}, radius.CodeAccessReject},
		{"notfound continues", []string{"notfound", "noop"}, radius.CodeAccessAccept},
		{"handled without reply code", []string{"handled"}, radius.CodeAccessReject},
		{"challenge", []string{"challenge"}, radius.CodeAccessChallenge},
		{"empty section", nil, radius.CodeAccessAccept},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProcessor(t, defs, Sections{Authorize: tt.authorize, Authenticate: []string{"accept"}})
			r := accessRequest("bob", "hello")
			assert.Equal(t, tt.reply, p.Process(r))
			if tt.reply == radius.CodeAccessChallenge {
				assert.True(t, r.Reply.Has("State"))
			}
		})
	}
}

func TestPostAuth(t *testing.T) {
	defs := map[string]modules.Definition{
		"accept":  rule("ok", "Session-Timeout := 60"),
		"deny":    rule("reject", "Reply-Message := denied by policy"),
		"noop":    rule("noop"),
		"cleanup": rule("fail"),
	}
	tests := []struct {
		name     string
		postAuth []string
		reply    radius.Code
		message  string
	}{
		{"noop keeps accept", []string{"noop"}, radius.CodeAccessAccept, ""},
		{"reject turns accept into reject", []string{"deny"}, radius.CodeAccessReject, "denied by policy"},
		{"fail turns accept into reject", []string{"cleanup"}, radius.CodeAccessReject, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProcessor(t, defs, Sections{
				Authorize:    []string{"noop"},
				Authenticate: []string{"accept"},
				PostAuth:     tt.postAuth,
			})
			r := accessRequest("bob", "hello")
			assert.Equal(t, tt.reply, p.Process(r))
			assert.Equal(t, tt.message, r.Reply.Value("Reply-Message"))
			if tt.reply == radius.CodeAccessReject {
				assert.False(t, r.Reply.Has("Session-Timeout"))
			}
		})
	}
}

func TestProcessAccounting(t *testing.T) {
	defs := map[string]modules.Definition{
		"acct":   {},
		"reject": rule("reject"),
		"noop":   rule("noop"),
	}
	tests := []struct {
		name       string
		preacct    []string
		accounting []string
		status     string
		reply      radius.Code
	}{
		{"start", []string{"acct"}, []string{"acct"}, "1", radius.CodeAccountingResponse},
		{"accounting-on", []string{"acct"}, []string{"acct"}, "7", radius.CodeAccountingResponse},
		{"missing status", []string{"acct"}, []string{"acct"}, "", 0},
		{"preacct reject", []string{"reject"}, []string{"acct"}, "1", 0},
		{"noop only", nil, []string{"noop"}, "1", radius.CodeAccountingResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProcessor(t, defs, Sections{PreAcct: tt.preacct, Accounting: tt.accounting})
			packet := pairs.List{pairs.New("User-Name", "bob"), pairs.New("Acct-Session-Id", "s1")}
			if tt.status != "" {
				packet = append(packet, pairs.New("Acct-Status-Type", tt.status))
			}
			r := request.New(context.Background(), radius.CodeAccountingRequest, packet)
			assert.Equal(t, tt.reply, p.Process(r))
		})
	}
}

func TestUnsupportedCode(t *testing.T) {
	p := newTestProcessor(t, nil, Sections{})
	r := request.New(context.Background(), radius.CodeDisconnectRequest, nil)
	assert.Equal(t, radius.Code(0), p.Process(r))
}

func TestNewProcessorWarnsAboutMissingCallbacks(t *testing.T) {
	hook := logtest.NewLocal(log.Logger())
	newTestProcessor(t, baseDefs(), Sections{Authorize: []string{"acct"}})

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && strings.Contains(e.Message, `module "acct" which has no authorize callback`) {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestNewProcessorUndefinedModule(t *testing.T) {
	_, err := NewProcessor(modules.Instances{}, Sections{Authorize: []string{"missing"}})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}
