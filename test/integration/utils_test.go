package integration_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2866"
)

// helper functions
func exchange(t *testing.T, p *radius.Packet, addr string) *radius.Packet {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := radius.Exchange(ctx, p, addr)
	require.NoError(t, err)
	return resp
}

func accessRequest(t *testing.T, user, password string) *radius.Packet {
	p := radius.New(radius.CodeAccessRequest, []byte(secret))
	require.NoError(t, rfc2865.UserName_SetString(p, user))
	require.NoError(t, rfc2865.UserPassword_SetString(p, password))
	require.NoError(t, rfc2865.NASIPAddress_Set(p, net.ParseIP("10.0.0.1")))
	return p
}

func accountingRequest(t *testing.T, user, sessionID string, status rfc2866.AcctStatusType) *radius.Packet {
	p := radius.New(radius.CodeAccountingRequest, []byte(secret))
	require.NoError(t, rfc2865.UserName_SetString(p, user))
	require.NoError(t, rfc2865.NASIPAddress_Set(p, net.ParseIP("10.0.0.1")))
	require.NoError(t, rfc2866.AcctSessionID_SetString(p, sessionID))
	require.NoError(t, rfc2866.AcctStatusType_Set(p, status))
	return p
}
