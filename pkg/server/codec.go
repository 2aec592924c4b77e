package server

import (
	"crypto/rand"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/maximthomas/goradius/pkg/pairs"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2866"
	"layeh.com/radius/rfc2869"
)

type attrKind int

const (
	kindString attrKind = iota
	kindInteger
	kindIPAddr
	kindDate
	kindPassword
	kindIPv6Addr
	kindComboIP
	// kindSalted octets are sent salt encrypted (RFC 2868 section 3.5).
	kindSalted
)

const (
	vendorMicrosoft uint32 = 311
	vendorWiMAX     uint32 = 24757
)

type attrKey struct {
	vendor uint32
	typ    byte
}

type attribute struct {
	name   string
	vendor uint32
	typ    byte
	kind   attrKind
}

func (a attribute) key() attrKey {
	return attrKey{vendor: a.vendor, typ: a.typ}
}

var attributes = []attribute{
	{"User-Name", 0, byte(rfc2865.UserName_Type), kindString},
	{"User-Password", 0, byte(rfc2865.UserPassword_Type), kindPassword},
	{"NAS-IP-Address", 0, byte(rfc2865.NASIPAddress_Type), kindIPAddr},
	{"NAS-Port", 0, byte(rfc2865.NASPort_Type), kindInteger},
	{"Service-Type", 0, byte(rfc2865.ServiceType_Type), kindInteger},
	{"Framed-IP-Address", 0, byte(rfc2865.FramedIPAddress_Type), kindIPAddr},
	{"Filter-Id", 0, byte(rfc2865.FilterID_Type), kindString},
	{"Reply-Message", 0, byte(rfc2865.ReplyMessage_Type), kindString},
	{"State", 0, byte(rfc2865.State_Type), kindString},
	{"Class", 0, byte(rfc2865.Class_Type), kindString},
	{"Session-Timeout", 0, byte(rfc2865.SessionTimeout_Type), kindInteger},
	{"Idle-Timeout", 0, byte(rfc2865.IdleTimeout_Type), kindInteger},
	{"Called-Station-Id", 0, byte(rfc2865.CalledStationID_Type), kindString},
	{"Calling-Station-Id", 0, byte(rfc2865.CallingStationID_Type), kindString},
	{"NAS-Identifier", 0, byte(rfc2865.NASIdentifier_Type), kindString},
	{"Acct-Status-Type", 0, byte(rfc2866.AcctStatusType_Type), kindInteger},
	{"Acct-Delay-Time", 0, byte(rfc2866.AcctDelayTime_Type), kindInteger},
	{"Acct-Input-Octets", 0, byte(rfc2866.AcctInputOctets_Type), kindInteger},
	{"Acct-Output-Octets", 0, byte(rfc2866.AcctOutputOctets_Type), kindInteger},
	{"Acct-Session-Id", 0, byte(rfc2866.AcctSessionID_Type), kindString},
	{"Acct-Session-Time", 0, byte(rfc2866.AcctSessionTime_Type), kindInteger},
	{"Acct-Terminate-Cause", 0, byte(rfc2866.AcctTerminateCause_Type), kindInteger},
	{"Acct-Input-Gigawords", 0, byte(rfc2869.AcctInputGigawords_Type), kindInteger},
	{"Acct-Output-Gigawords", 0, byte(rfc2869.AcctOutputGigawords_Type), kindInteger},
	{"Event-Timestamp", 0, byte(rfc2869.EventTimestamp_Type), kindDate},

	{"MS-MPPE-Send-Key", vendorMicrosoft, 16, kindSalted},
	{"MS-MPPE-Recv-Key", vendorMicrosoft, 17, kindSalted},

	{"WiMAX-MSK", vendorWiMAX, 5, kindSalted},
	{"WiMAX-hHA-IP-MIP4", vendorWiMAX, 6, kindIPAddr},
	{"WiMAX-hHA-IP-MIP6", vendorWiMAX, 7, kindIPv6Addr},
	{"WiMAX-MN-hHA-MIP4-Key", vendorWiMAX, 10, kindSalted},
	{"WiMAX-MN-hHA-MIP4-SPI", vendorWiMAX, 11, kindInteger},
	{"WiMAX-MN-hHA-MIP6-Key", vendorWiMAX, 12, kindSalted},
	{"WiMAX-MN-hHA-MIP6-SPI", vendorWiMAX, 13, kindInteger},
	{"WiMAX-FA-RK-Key", vendorWiMAX, 14, kindSalted},
	{"WiMAX-RRQ-HA-IP", vendorWiMAX, 18, kindComboIP},
	{"WiMAX-RRQ-MN-HA-SPI", vendorWiMAX, 20, kindInteger},
	{"WiMAX-IP-Technology", vendorWiMAX, 23, kindInteger},
	{"WiMAX-MN-NAI", vendorWiMAX, 52, kindString},
	{"WiMAX-HA-RK-Key-Requested", vendorWiMAX, 58, kindInteger},
	{"WiMAX-FA-RK-SPI", vendorWiMAX, 61, kindInteger},
}

var (
	attributesByKey  = map[attrKey]attribute{}
	attributesByName = map[string]attribute{}
)

func init() {
	for _, a := range attributes {
		attributesByKey[a.key()] = a
		attributesByName[strings.ToLower(a.name)] = a
	}
}

// decodePacket turns the known attributes of p into request pairs.
func decodePacket(p *radius.Packet, logger logrus.FieldLogger) pairs.List {
	var list pairs.List
	add := func(key attrKey, attr radius.Attribute) {
		a, ok := attributesByKey[key]
		if !ok {
			logger.Debugf("skipping unknown attribute %d (vendor %d)", key.typ, key.vendor)
			return
		}
		value, err := decodeValue(a, attr, p)
		if err != nil {
			logger.Warnf("bad %s attribute: %v", a.name, err)
			return
		}
		list.Add(pairs.New(a.name, value))
	}
	for _, avp := range p.Attributes {
		if avp.Type != rfc2865.VendorSpecific_Type {
			add(attrKey{typ: byte(avp.Type)}, avp.Attribute)
			continue
		}
		vendor, subs, err := splitVendorSpecific(avp.Attribute)
		if err != nil {
			logger.Warnf("bad Vendor-Specific attribute: %v", err)
			continue
		}
		for _, sub := range subs {
			add(attrKey{vendor: vendor, typ: sub.typ}, sub.value)
		}
	}
	return list
}

type vendorAttr struct {
	typ   byte
	value radius.Attribute
}

// splitVendorSpecific parses the sub-attributes of a Vendor-Specific
// attribute. WiMAX sub-attributes carry a continuation octet after the length.
func splitVendorSpecific(attr radius.Attribute) (uint32, []vendorAttr, error) {
	vendor, data, err := radius.VendorSpecific(attr)
	if err != nil {
		return 0, nil, err
	}
	header := 2
	if vendor == vendorWiMAX {
		header = 3
	}
	var subs []vendorAttr
	for len(data) > 0 {
		if len(data) < header {
			return vendor, nil, errors.Errorf("vendor %d: short sub-attribute", vendor)
		}
		length := int(data[1])
		if length < header || length > len(data) {
			return vendor, nil, errors.Errorf("vendor %d: bad sub-attribute length %d", vendor, length)
		}
		subs = append(subs, vendorAttr{typ: data[0], value: radius.Attribute(data[header:length])})
		data = data[length:]
	}
	return vendor, subs, nil
}

// newVendorSpecific wraps value as a single sub-attribute of a Vendor-Specific attribute.
func newVendorSpecific(a attribute, value radius.Attribute) (radius.Attribute, error) {
	header := []byte{a.typ, 0}
	if a.vendor == vendorWiMAX {
		header = append(header, 0)
	}
	length := len(header) + len(value)
	if length > 255 {
		return nil, errors.New("value too long for vendor attribute")
	}
	header[1] = byte(length)
	return radius.NewVendorSpecific(a.vendor, append(header, value...))
}

func decodeValue(a attribute, attr radius.Attribute, p *radius.Packet) (string, error) {
	switch a.kind {
	case kindInteger:
		n, err := radius.Integer(attr)
		if err != nil {
			return "", err
		}
		return pairs.FromUint32(n), nil
	case kindIPAddr:
		ip, err := radius.IPAddr(attr)
		if err != nil {
			return "", err
		}
		return ip.String(), nil
	case kindDate:
		t, err := radius.Date(attr)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(t.Unix(), 10), nil
	case kindPassword:
		pw, err := radius.UserPassword(attr, p.Secret, p.Authenticator[:])
		if err != nil {
			return "", err
		}
		return string(pw), nil
	case kindIPv6Addr:
		ip, err := radius.IPv6Addr(attr)
		if err != nil {
			return "", err
		}
		return ip.String(), nil
	case kindComboIP:
		if len(attr) != net.IPv4len && len(attr) != net.IPv6len {
			return "", errors.Errorf("bad address length %d", len(attr))
		}
		return net.IP(attr).String(), nil
	case kindSalted:
		key, _, err := radius.TunnelPassword(attr, p.Secret, p.Authenticator[:])
		if err != nil {
			return "", err
		}
		return pairs.FromOctets(key), nil
	}
	return radius.String(attr), nil
}

// encodeReply adds the known pairs of list to resp. Pairs the codec cannot
// carry are dropped. Salted values are encrypted with the authenticator resp
// was created from.
func encodeReply(list pairs.List, resp *radius.Packet, logger logrus.FieldLogger) {
	for _, p := range list {
		a, ok := attributesByName[strings.ToLower(p.Name)]
		if !ok {
			logger.Debugf("dropping reply attribute %s: not in the attribute table", p.Name)
			continue
		}
		attr, err := encodeValue(a, p.Value, resp)
		if err == nil && a.vendor != 0 {
			attr, err = newVendorSpecific(a, attr)
		}
		if err != nil {
			logger.Warnf("dropping reply attribute %s: %v", a.name, err)
			continue
		}
		typ := radius.Type(a.typ)
		if a.vendor != 0 {
			typ = rfc2865.VendorSpecific_Type
		}
		resp.Add(typ, attr)
	}
}

func encodeValue(a attribute, value string, resp *radius.Packet) (radius.Attribute, error) {
	switch a.kind {
	case kindInteger:
		n, err := pairs.Uint32(value)
		if err != nil {
			return nil, err
		}
		return radius.NewInteger(n), nil
	case kindIPAddr:
		ip := net.ParseIP(value)
		if ip == nil {
			return nil, errors.Errorf("bad address %q", value)
		}
		return radius.NewIPAddr(ip)
	case kindIPv6Addr:
		ip := net.ParseIP(value)
		if ip == nil {
			return nil, errors.Errorf("bad address %q", value)
		}
		return radius.NewIPv6Addr(ip)
	case kindComboIP:
		ip := net.ParseIP(value)
		if ip == nil {
			return nil, errors.Errorf("bad address %q", value)
		}
		if v4 := ip.To4(); v4 != nil {
			return radius.Attribute(v4), nil
		}
		return radius.Attribute(ip.To16()), nil
	case kindDate:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "bad timestamp %q", value)
		}
		return radius.NewDate(time.Unix(n, 0))
	case kindPassword:
		return nil, errors.New("passwords are not sent in replies")
	case kindSalted:
		b, err := pairs.Octets(value)
		if err != nil {
			return nil, err
		}
		salt, err := newSalt()
		if err != nil {
			return nil, err
		}
		return radius.NewTunnelPassword(b, salt, resp.Secret, resp.Authenticator[:])
	}
	return radius.NewString(value)
}

// newSalt returns a random salt with the most significant bit set.
func newSalt() ([]byte, error) {
	salt := make([]byte, 2)
	if _, err := rand.Read(salt); err != nil {
		return nil, errors.Wrap(err, "salt")
	}
	salt[0] |= 0x80
	return salt, nil
}
