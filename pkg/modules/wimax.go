package modules

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"net"
	"strings"

	"github.com/maximthomas/goradius/pkg/pairs"
	"github.com/maximthomas/goradius/pkg/rcode"
	"github.com/maximthomas/goradius/pkg/request"
	"github.com/pkg/errors"
)

const (
	attrCallingStationID = "Calling-Station-Id"
	attrEAPMSK           = "EAP-MSK"
	attrEAPEMSK          = "EAP-EMSK"
	attrMPPESendKey      = "MS-MPPE-Send-Key"
	attrMPPERecvKey      = "MS-MPPE-Recv-Key"
	attrWiMAXMSK         = "WiMAX-MSK"
	attrMNNAI            = "WiMAX-MN-NAI"
	attrIPTechnology     = "WiMAX-IP-Technology"
	attrHHAIPMIP4        = "WiMAX-hHA-IP-MIP4"
	attrHHAIPMIP6        = "WiMAX-hHA-IP-MIP6"
	attrMNHHAMIP4Key     = "WiMAX-MN-hHA-MIP4-Key"
	attrMNHHAMIP4SPI     = "WiMAX-MN-hHA-MIP4-SPI"
	attrMNHHAMIP6Key     = "WiMAX-MN-hHA-MIP6-Key"
	attrMNHHAMIP6SPI     = "WiMAX-MN-hHA-MIP6-SPI"
	attrFARKKey          = "WiMAX-FA-RK-Key"
	attrFARKSPI          = "WiMAX-FA-RK-SPI"
	attrRRQHAIP          = "WiMAX-RRQ-HA-IP"
	attrRRQMNHASPI       = "WiMAX-RRQ-MN-HA-SPI"
	attrHARKRequested    = "WiMAX-HA-RK-Key-Requested"
)

const (
	ipTechPMIP4 = 2
	ipTechCMIP4 = 3
	ipTechCMIP6 = 4
)

// "miprk@wimaxforum.org" with its trailing NUL, then 0x02 0x00 0x01.
var mipRKUsageData = append([]byte("miprk@wimaxforum.org\x00"), 0x02, 0x00, 0x01)

// Deployed NAS and HA equipment hash the first 12 octets of "SPI CMIP PMIP".
var mipSPILabel = []byte("SPI CMIP PMIP")[:12]

// WiMAX fixes binary Calling-Station-Id values and derives the mobility keys
// after EAP authentication.
type WiMAX struct {
	BaseModule
	DeleteMppeKeys bool
}

func init() {
	RegisterModule("wimax", newWiMAX)
}

func newWiMAX(base BaseModule) (Module, error) {
	w := &WiMAX{}
	if err := base.decode(w); err != nil {
		return nil, err
	}
	w.BaseModule = base
	return w, nil
}

// Authorize rewrites a 6 octet Calling-Station-Id into the RFC 3580 format.
// Only the first Calling-Station-Id is looked at.
func (w *WiMAX) Authorize(r *request.Request) (rcode.Code, error) {
	for i, p := range r.Packet {
		if !strings.EqualFold(p.Name, attrCallingStationID) {
			continue
		}
		if len(p.Value) != 6 {
			return rcode.Noop, nil
		}
		octets := []byte(p.Value)
		parts := make([]string, len(octets))
		for j, b := range octets {
			parts[j] = hex.EncodeToString([]byte{b})
		}
		r.Packet[i].Value = strings.Join(parts, "-")
		r.Logger().Debugf("Fixing WiMAX binary Calling-Station-Id to %s", r.Packet[i].Value)
		return rcode.OK, nil
	}
	return rcode.Noop, nil
}

func (w *WiMAX) PreAcct(r *request.Request) (rcode.Code, error) {
	return w.Authorize(r)
}

// PostAuth generates MIP-RK, MIP-SPI and the MN-HA and FA-RK keys from the EAP-EMSK.
func (w *WiMAX) PostAuth(r *request.Request) (rcode.Code, error) {
	l := r.Logger()
	msk, okMSK := r.Reply.Find(attrEAPMSK)
	emskPair, okEMSK := r.Reply.Find(attrEAPEMSK)
	if !okMSK || !okEMSK {
		l.Debug("No EAP-MSK or EAP-EMSK.  Cannot create WiMAX keys")
		return rcode.Noop, nil
	}
	emsk, err := pairs.Octets(emskPair.Value)
	if err != nil {
		return rcode.Fail, errors.Wrap(err, attrEAPEMSK)
	}

	if w.DeleteMppeKeys {
		r.Reply.Delete(attrMPPESendKey)
		r.Reply.Delete(attrMPPERecvKey)
		mskOctets, err := pairs.Octets(msk.Value)
		if err != nil {
			return rcode.Fail, errors.Wrap(err, attrEAPMSK)
		}
		r.Reply.Set(attrWiMAXMSK, pairs.FromOctets(mskOctets))
	}

	mipRK := deriveMIPRK(emsk)
	mipSPI := deriveMIPSPI(mipRK)
	l.Debugf("MIP-RK = %s", pairs.FromOctets(mipRK))
	l.Debugf("MIP-SPI = %08x", mipSPI)

	nai, naiFound := r.Packet.Find(attrMNNAI)
	if !naiFound {
		nai, naiFound = r.Reply.Find(attrMNNAI)
	}
	if !naiFound {
		l.Warn("WiMAX-MN-NAI was not found in the request or in the reply")
		l.Warn("We cannot calculate MN-HA keys")
	} else if err := w.mobilityKeys(r, mipRK, mipSPI, nai.Value); err != nil {
		return rcode.Fail, err
	}

	if faRK, ok := r.Reply.Find(attrFARKKey); ok {
		current, err := pairs.Octets(faRK.Value)
		if err != nil {
			return rcode.Fail, errors.Wrap(err, attrFARKKey)
		}
		if len(current) <= 1 {
			r.Reply.Set(attrFARKKey, pairs.FromOctets(hmacSum(sha1.New, mipRK, []byte("FA-RK"))))
		}
		r.Reply.Set(attrFARKSPI, pairs.FromUint32(mipSPI))
	}

	if r.Packet.Has(attrRRQMNHASPI) {
		l.Debug("Client requested MN-HA key: Should use SPI to look up key from storage")
		if !naiFound {
			l.Warn("MN-NAI was not found!")
		}
		if !r.Packet.Has(attrRRQHAIP) {
			l.Warn("HA-IP was not found!")
		}
		if r.Packet.Value(attrHARKRequested) == "1" {
			l.Debug("Client requested HA-RK: Should use IP to look it up from storage")
		}
	}

	return rcode.Updated, nil
}

func (w *WiMAX) mobilityKeys(r *request.Request, mipRK []byte, mipSPI uint32, nai string) error {
	l := r.Logger()
	techPair, ok := r.Reply.Find(attrIPTechnology)
	if !ok {
		l.Warn("WiMAX-IP-Technology not found in reply")
		l.Warn("Not calculating MN-HA keys")
		return nil
	}
	tech, err := pairs.Uint32(techPair.Value)
	if err != nil {
		return errors.Wrap(err, attrIPTechnology)
	}

	var (
		label, ipAttr, keyAttr, spiAttr string
		spi                             uint32
		ipv6                            bool
	)
	switch tech {
	case ipTechPMIP4:
		label, ipAttr, keyAttr, spiAttr, spi = "PMIP4 MN HA", attrHHAIPMIP4, attrMNHHAMIP4Key, attrMNHHAMIP4SPI, mipSPI+1
	case ipTechCMIP4:
		label, ipAttr, keyAttr, spiAttr, spi = "CMIP4 MN HA", attrHHAIPMIP4, attrMNHHAMIP4Key, attrMNHHAMIP4SPI, mipSPI
	case ipTechCMIP6:
		label, ipAttr, keyAttr, spiAttr, spi = "CMIP6 MN HA", attrHHAIPMIP6, attrMNHHAMIP6Key, attrMNHHAMIP6SPI, mipSPI+2
		ipv6 = true
	default:
		return nil
	}

	ipPair, ok := r.Reply.Find(ipAttr)
	if !ok {
		l.Warnf("%s not found.  Cannot calculate MN-HA-%s key", ipAttr, strings.TrimSuffix(label, " MN HA"))
		return nil
	}
	ip := net.ParseIP(ipPair.Value)
	var haIP []byte
	if ipv6 {
		haIP = ip.To16()
	} else {
		haIP = ip.To4()
	}
	if haIP == nil {
		return errors.Errorf("%s: bad address %q", ipAttr, ipPair.Value)
	}

	key := hmacSum(sha1.New, mipRK, []byte(label), haIP, []byte(nai))
	r.Reply.Set(keyAttr, pairs.FromOctets(key))
	r.Reply.Set(spiAttr, pairs.FromUint32(spi))
	return nil
}

// deriveMIPRK computes MIP-RK-1 | MIP-RK-2 where
// MIP-RK-1 = HMAC-SHA256(EMSK, usage-data) and
// MIP-RK-2 = HMAC-SHA256(EMSK, MIP-RK-1 | usage-data).
func deriveMIPRK(emsk []byte) []byte {
	rk1 := hmacSum(sha256.New, emsk, mipRKUsageData)
	rk2 := hmacSum(sha256.New, emsk, rk1, mipRKUsageData)
	return append(rk1, rk2...)
}

// deriveMIPSPI takes the 4 most significant octets of HMAC-SHA256(MIP-RK, "SPI CMIP PMI").
// Values below 256 are reserved.
func deriveMIPSPI(mipRK []byte) uint32 {
	spi := pairs.Uint32FromOctets(hmacSum(sha256.New, mipRK, mipSPILabel))
	if spi < 256 {
		spi += 256
	}
	return spi
}

func hmacSum(h func() hash.Hash, key []byte, data ...[]byte) []byte {
	mac := hmac.New(h, key)
	for _, d := range data {
		mac.Write(d)
	}
	return mac.Sum(nil)
}
