package integration_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/maximthomas/goradius/pkg/auth"
	"github.com/maximthomas/goradius/pkg/config"
	"github.com/maximthomas/goradius/pkg/modules"
	"github.com/maximthomas/goradius/pkg/notify"
	"github.com/maximthomas/goradius/pkg/server"
	"github.com/maximthomas/goradius/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2866"
)

const secret = "testing123"

var mailbox = &notify.TestSender{}

func init() {
	notify.RegisterSender("mailbox", func(map[string]interface{}) (notify.Sender, error) {
		return mailbox, nil
	})
}

var (
	defs = map[string]modules.Definition{
		"files": {
			Type: "users",
			Properties: map[string]interface{}{
				"dataStore": map[string]interface{}{
					"type": "memory",
					"properties": map[string]interface{}{
						"users": []map[string]interface{}{{
							"id": "bob",
							"properties": map[string]interface{}{
								"reply:Reply-Message":        "Hello, bob",
								"reply:Session-Timeout":      "3600",
								"control:Cleartext-Password": "hello",
								"control:Auth-Type":          "pap",
								"control:Simultaneous-Use":   "1",
							},
						}},
					},
				},
			},
		},
		"pap":  {Properties: map[string]interface{}{"rejectMessage": "Wrong password"}},
		"acct": {},
		"mail": {Properties: map[string]interface{}{
			"to":     "noc@example.com",
			"sender": map[string]interface{}{"type": "mailbox"},
		}},
	}
	sections = auth.Sections{
		Authorize:    []string{"files", "pap"},
		Authenticate: []string{"pap", "files"},
		PostAuth:     []string{"mail"},
		PreAcct:      []string{"acct"},
		Accounting:   []string{"acct"},
		Session:      []string{"acct"},
	}
)

type stack struct {
	addr      string
	instances modules.Instances
	processor *auth.Processor
}

func startStack(t *testing.T) stack {
	ctx, cancel := context.WithCancel(context.Background())
	instances, err := modules.LoadInstances(ctx, defs)
	require.NoError(t, err)
	processor, err := auth.NewProcessor(instances, sections)
	require.NoError(t, err)

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	rs := server.NewRadiusServer(config.Server{Secret: secret}, processor)
	go func() {
		_ = rs.Serve(ctx, conn)
	}()
	t.Cleanup(func() {
		cancel()
		_ = rs.Shutdown(context.Background())
		_ = instances.Detach()
	})
	return stack{addr: conn.LocalAddr().String(), instances: instances, processor: processor}
}

func TestAccessAndAccounting(t *testing.T) {
	s := startStack(t)

	resp := exchange(t, accessRequest(t, "bob", "bad"), s.addr)
	assert.Equal(t, radius.CodeAccessReject, resp.Code)
	assert.Equal(t, "Wrong password", rfc2865.ReplyMessage_GetString(resp))
	_, ok := resp.Lookup(rfc2865.SessionTimeout_Type)
	assert.False(t, ok, "reject carries only allowed attributes")

	resp = exchange(t, accessRequest(t, "bob", "hello"), s.addr)
	assert.Equal(t, radius.CodeAccessAccept, resp.Code)
	assert.Equal(t, "Hello, bob", rfc2865.ReplyMessage_GetString(resp))
	assert.Equal(t, rfc2865.SessionTimeout(3600), rfc2865.SessionTimeout_Get(resp))

	resp = exchange(t, accessRequest(t, "alice", "hello"), s.addr)
	assert.Equal(t, radius.CodeAccessReject, resp.Code)

	resp = exchange(t, accountingRequest(t, "bob", "s1", rfc2866.AcctStatusType_Value_Start), s.addr)
	assert.Equal(t, radius.CodeAccountingResponse, resp.Code)

	resp = exchange(t, accessRequest(t, "bob", "hello"), s.addr)
	assert.Equal(t, radius.CodeAccessReject, resp.Code)
	assert.Equal(t, "You are already logged in - access denied", rfc2865.ReplyMessage_GetString(resp))

	resp = exchange(t, accountingRequest(t, "bob", "s1", rfc2866.AcctStatusType_Value_Stop), s.addr)
	assert.Equal(t, radius.CodeAccountingResponse, resp.Code)

	resp = exchange(t, accessRequest(t, "bob", "hello"), s.addr)
	assert.Equal(t, radius.CodeAccessAccept, resp.Code)

	assert.Len(t, mailbox.Messages(), 3)

	inst, ok := s.instances.FirstOfType("acct")
	require.True(t, ok)
	router := server.SetupRouter(config.Admin{}, s.processor, inst.Module.(*modules.Acct).Sessions())
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/goradius/v1/sessions/bob", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	var sessions []session.Session
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].AcctSessionID)
	assert.False(t, sessions[0].Open)
}
