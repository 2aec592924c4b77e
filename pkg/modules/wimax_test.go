package modules

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net"
	"testing"

	"github.com/maximthomas/goradius/pkg/pairs"
	"github.com/maximthomas/goradius/pkg/rcode"
	"github.com/maximthomas/goradius/pkg/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEMSK = func() []byte {
	b := make([]byte, 64)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}()

func newWiMAXInstance(t *testing.T, props map[string]interface{}) *Instance {
	t.Helper()
	inst, err := NewInstance("wimax", "wimax", props)
	require.NoError(t, err)
	return inst
}

// Known answers for testEMSK.
const (
	testMIPRK     = "f258a57e45b5dfafad9947a2446f249041f90772c1feba1725f3485065d26bc0" + "7d192f2dde9179f57afb364b916d84176339f8338217f6a615a1ea6c174cc322"
	testMIPSPI    = uint32(0xbadff05d)
	testPMIP4Key  = "0x43062feec2d39816402ff71d5472fe12fa1bf070"
	testFARKKey   = "0xad473f5a72afcb7ac5e5b3b3747159a861670069"
	testMobileNAI = "user@wimax.example"
)

func knownMIPRK(t *testing.T) []byte {
	t.Helper()
	rk, err := hex.DecodeString(testMIPRK)
	require.NoError(t, err)
	return rk
}

func TestWiMAXKeyDerivation(t *testing.T) {
	rk := deriveMIPRK(testEMSK)
	assert.Equal(t, testMIPRK, hex.EncodeToString(rk))
	assert.Equal(t, testMIPSPI, deriveMIPSPI(rk))
	assert.Equal(t, "badff05d", fmt.Sprintf("%08x", deriveMIPSPI(rk)))

	// The reserved range is shifted up.
	assert.GreaterOrEqual(t, deriveMIPSPI([]byte("any key")), uint32(256))
}

func TestWiMAXCallingStationID(t *testing.T) {
	inst := newWiMAXInstance(t, nil)
	tests := []struct {
		name string
		in   string
		want string
		code rcode.Code
	}{
		{"binary", string([]byte{0x00, 0x1a, 0x2b, 0x3c, 0x4d, 0xff}), "00-1a-2b-3c-4d-ff", rcode.OK},
		{"already formatted", "00-1a-2b-3c-4d-ff", "00-1a-2b-3c-4d-ff", rcode.Noop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := accessRequest("bob")
			r.Packet.Add(pairs.New("Calling-Station-Id", tt.in))
			assert.Equal(t, tt.code, inst.Call(MethodAuthorize, r))
			assert.Equal(t, tt.want, r.Packet.Value("Calling-Station-Id"))
		})
	}

	r := accessRequest("bob")
	assert.Equal(t, rcode.Noop, inst.Call(MethodPreAcct, r))

	t.Run("name is case insensitive", func(t *testing.T) {
		r := accessRequest("bob")
		r.Packet.Add(pairs.New("calling-station-id", string([]byte{0, 1, 2, 3, 4, 5})))
		assert.Equal(t, rcode.OK, inst.Call(MethodPreAcct, r))
		assert.Equal(t, "00-01-02-03-04-05", r.Packet.Value("Calling-Station-Id"))
	})
	t.Run("only the first is rewritten", func(t *testing.T) {
		second := string([]byte{0, 1, 2, 3, 4, 5})
		r := accessRequest("bob")
		r.Packet.Add(pairs.New("Calling-Station-Id", "00-1a-2b-3c-4d-ff"))
		r.Packet.Add(pairs.New("CALLING-STATION-ID", second))
		assert.Equal(t, rcode.Noop, inst.Call(MethodAuthorize, r))
		assert.Equal(t, second, r.Packet[len(r.Packet)-1].Value)
	})
}

func wimaxReply(extra ...pairs.Pair) *request.Request {
	r := accessRequest("bob")
	r.Reply = pairs.List{
		pairs.New("EAP-MSK", pairs.FromOctets([]byte{9, 9, 9, 9})),
		pairs.New("EAP-EMSK", pairs.FromOctets(testEMSK)),
		pairs.New("MS-MPPE-Send-Key", "0x01"),
		pairs.New("MS-MPPE-Recv-Key", "0x02"),
	}
	r.Reply = append(r.Reply, extra...)
	return r
}

func TestWiMAXPostAuthNoKeys(t *testing.T) {
	inst := newWiMAXInstance(t, nil)
	assert.Equal(t, rcode.Noop, inst.Call(MethodPostAuth, accessRequest("bob")))
}

func TestWiMAXDeleteMppeKeys(t *testing.T) {
	inst := newWiMAXInstance(t, map[string]interface{}{"deleteMppeKeys": true})
	r := wimaxReply()
	assert.Equal(t, rcode.Updated, inst.Call(MethodPostAuth, r))
	assert.False(t, r.Reply.Has("MS-MPPE-Send-Key"))
	assert.False(t, r.Reply.Has("MS-MPPE-Recv-Key"))
	assert.Equal(t, "0x09090909", r.Reply.Value("WiMAX-MSK"))

	keep := newWiMAXInstance(t, nil)
	r = wimaxReply()
	assert.Equal(t, rcode.Updated, keep.Call(MethodPostAuth, r))
	assert.True(t, r.Reply.Has("MS-MPPE-Send-Key"))
	assert.False(t, r.Reply.Has("WiMAX-MSK"))
}

func TestWiMAXMobilityKeys(t *testing.T) {
	rk := knownMIPRK(t)
	spi := testMIPSPI
	nai := testMobileNAI

	haKey := func(label string, ip []byte) string {
		m := hmac.New(sha1.New, rk)
		m.Write([]byte(label))
		m.Write(ip)
		m.Write([]byte(nai))
		return pairs.FromOctets(m.Sum(nil))
	}

	tests := []struct {
		name    string
		tech    string
		ip      pairs.Pair
		keyAttr string
		spiAttr string
		key     string
		spi     uint32
	}{
		{"PMIP4", "2", pairs.New("WiMAX-hHA-IP-MIP4", "10.0.0.1"), "WiMAX-MN-hHA-MIP4-Key", "WiMAX-MN-hHA-MIP4-SPI",
			haKey("PMIP4 MN HA", net.ParseIP("10.0.0.1").To4()), spi + 1},
		{"CMIP4", "3", pairs.New("WiMAX-hHA-IP-MIP4", "10.0.0.1"), "WiMAX-MN-hHA-MIP4-Key", "WiMAX-MN-hHA-MIP4-SPI",
			haKey("CMIP4 MN HA", net.ParseIP("10.0.0.1").To4()), spi},
		{"CMIP6", "4", pairs.New("WiMAX-hHA-IP-MIP6", "2001:db8::1"), "WiMAX-MN-hHA-MIP6-Key", "WiMAX-MN-hHA-MIP6-SPI",
			haKey("CMIP6 MN HA", net.ParseIP("2001:db8::1").To16()), spi + 2},
	}
	inst := newWiMAXInstance(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := wimaxReply(pairs.New("WiMAX-IP-Technology", tt.tech), tt.ip)
			r.Packet.Add(pairs.New("WiMAX-MN-NAI", nai))
			assert.Equal(t, rcode.Updated, inst.Call(MethodPostAuth, r))
			assert.Equal(t, tt.key, r.Reply.Value(tt.keyAttr))
			assert.Equal(t, pairs.FromUint32(tt.spi), r.Reply.Value(tt.spiAttr))
		})
	}

	t.Run("missing home agent address", func(t *testing.T) {
		r := wimaxReply(pairs.New("WiMAX-IP-Technology", "2"))
		r.Packet.Add(pairs.New("WiMAX-MN-NAI", nai))
		assert.Equal(t, rcode.Updated, inst.Call(MethodPostAuth, r))
		assert.False(t, r.Reply.Has("WiMAX-MN-hHA-MIP4-Key"))
	})
	t.Run("missing NAI", func(t *testing.T) {
		r := wimaxReply(pairs.New("WiMAX-IP-Technology", "2"), pairs.New("WiMAX-hHA-IP-MIP4", "10.0.0.1"))
		assert.Equal(t, rcode.Updated, inst.Call(MethodPostAuth, r))
		assert.False(t, r.Reply.Has("WiMAX-MN-hHA-MIP4-Key"))
	})
	t.Run("NAI from reply", func(t *testing.T) {
		r := wimaxReply(pairs.New("WiMAX-IP-Technology", "3"), pairs.New("WiMAX-hHA-IP-MIP4", "10.0.0.1"),
			pairs.New("WiMAX-MN-NAI", nai))
		assert.Equal(t, rcode.Updated, inst.Call(MethodPostAuth, r))
		assert.Equal(t, tests[1].key, r.Reply.Value("WiMAX-MN-hHA-MIP4-Key"))
	})
	t.Run("known PMIP4 key", func(t *testing.T) {
		assert.Equal(t, testPMIP4Key, tests[0].key)
	})
	t.Run("bad address", func(t *testing.T) {
		r := wimaxReply(pairs.New("WiMAX-IP-Technology", "2"), pairs.New("WiMAX-hHA-IP-MIP4", "nope"))
		r.Packet.Add(pairs.New("WiMAX-MN-NAI", nai))
		assert.Equal(t, rcode.Fail, inst.Call(MethodPostAuth, r))
	})
}

func TestWiMAXFARK(t *testing.T) {
	inst := newWiMAXInstance(t, nil)
	r := wimaxReply(pairs.New("WiMAX-FA-RK-Key", ""))
	assert.Equal(t, rcode.Updated, inst.Call(MethodPostAuth, r))
	assert.Equal(t, testFARKKey, r.Reply.Value("WiMAX-FA-RK-Key"))
	assert.Equal(t, pairs.FromUint32(testMIPSPI), r.Reply.Value("WiMAX-FA-RK-SPI"))

	r = wimaxReply(pairs.New("WiMAX-FA-RK-Key", "0x0102030405"))
	assert.Equal(t, rcode.Updated, inst.Call(MethodPostAuth, r))
	assert.Equal(t, "0x0102030405", r.Reply.Value("WiMAX-FA-RK-Key"))
	assert.True(t, r.Reply.Has("WiMAX-FA-RK-SPI"))
}
