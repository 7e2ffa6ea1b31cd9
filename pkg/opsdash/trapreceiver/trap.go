package trapreceiver

import (
	"fmt"
	"net"
	"strings"

	"github.com/gosnmp/gosnmp"
)

const (
	// oidSnmpTrapOID is snmpTrapOID.0; in v2c/v3 PDUs its value is the trap OID.
	oidSnmpTrapOID = ".1.3.6.1.6.3.1.1.4.1.0"
)

// Trap is the part of a received notification that becomes a trigger event.
type Trap struct {
	Source   string
	Version  string
	TrapOID  string
	Varbinds []Varbind
}

// Varbind is one payload variable, value rendered as text.
type Varbind struct {
	OID   string
	Value string
}

// Event renders t as a trigger event carrying at most limit varbinds:
//
//	SNMP Trap: .1.3.6.1.6.3.1.1.5.3 from 10.0.0.1 [.1.3.6.1.2.1.2.2.1.1.2=2]
func (t Trap) Event(limit int) string {
	oid := t.TrapOID
	if oid == "" {
		oid = "unknown"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SNMP Trap: %s from %s", oid, t.Source)
	n := min(limit, len(t.Varbinds))
	if n <= 0 {
		return b.String()
	}
	parts := make([]string, 0, n)
	for _, vb := range t.Varbinds[:n] {
		parts = append(parts, vb.OID+"="+vb.Value)
	}
	b.WriteString(" [" + strings.Join(parts, ", ") + "]")
	return b.String()
}

// ─────────────────────────────────────────────────────────────────────────────
// Parse
// ─────────────────────────────────────────────────────────────────────────────

// ParseFunc converts a packet from the listener into a Trap.
type ParseFunc func(pkt *gosnmp.SnmpPacket, addr *net.UDPAddr) (Trap, error)

// Parse converts a trap or inform PDU. v1 traps carry their own agent address
// and enterprise fields; v2c/v3 traps carry the trap OID as a varbind.
func Parse(pkt *gosnmp.SnmpPacket, addr *net.UDPAddr) (Trap, error) {
	if pkt == nil {
		return Trap{}, fmt.Errorf("trapreceiver: nil packet")
	}
	t := Trap{}
	if addr != nil {
		t.Source = addr.IP.String()
	}

	switch pkt.Version {
	case gosnmp.Version1:
		t.Version = "v1"
		if pkt.AgentAddress != "" {
			t.Source = pkt.AgentAddress
		}
		t.TrapOID = v1TrapOID(pkt)
		t.Varbinds = convertVarbinds(pkt.Variables)
	case gosnmp.Version2c, gosnmp.Version3:
		t.Version = "v2c"
		if pkt.Version == gosnmp.Version3 {
			t.Version = "v3"
		}
		vars := pkt.Variables
		for i, v := range vars {
			if normaliseOID(v.Name) == oidSnmpTrapOID {
				t.TrapOID = normaliseOID(fmt.Sprintf("%v", v.Value))
				vars = vars[i+1:]
				break
			}
		}
		t.Varbinds = convertVarbinds(vars)
	default:
		return t, fmt.Errorf("trapreceiver: unsupported SNMP version %v", pkt.Version)
	}
	return t, nil
}

// v1TrapOID maps a v1 trap onto its v2 OID (RFC 3584 §3.1).
func v1TrapOID(pkt *gosnmp.SnmpPacket) string {
	if pkt.GenericTrap >= 0 && pkt.GenericTrap < 6 {
		return fmt.Sprintf(".1.3.6.1.6.3.1.1.5.%d", pkt.GenericTrap+1)
	}
	ent := normaliseOID(pkt.Enterprise)
	return fmt.Sprintf("%s.0.%d", ent, pkt.SpecificTrap)
}

func convertVarbinds(pdus []gosnmp.SnmpPDU) []Varbind {
	out := make([]Varbind, 0, len(pdus))
	for _, pdu := range pdus {
		switch pdu.Type {
		case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView, gosnmp.Null:
			continue
		}
		name := normaliseOID(pdu.Name)
		// sysUpTime.0 says nothing about the event.
		if name == ".1.3.6.1.2.1.1.3.0" {
			continue
		}
		out = append(out, Varbind{OID: name, Value: pduValue(pdu)})
	}
	return out
}

func pduValue(pdu gosnmp.SnmpPDU) string {
	switch pdu.Type {
	case gosnmp.OctetString:
		if b, ok := pdu.Value.([]byte); ok {
			if isPrintable(b) {
				return string(b)
			}
			return fmt.Sprintf("%x", b)
		}
	case gosnmp.ObjectIdentifier:
		return normaliseOID(fmt.Sprintf("%v", pdu.Value))
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Gauge32, gosnmp.TimeTicks,
		gosnmp.Uinteger32, gosnmp.Counter64:
		return gosnmp.ToBigInt(pdu.Value).String()
	}
	return fmt.Sprintf("%v", pdu.Value)
}

func normaliseOID(oid string) string {
	oid = strings.TrimSpace(oid)
	if oid == "" {
		return ""
	}
	if !strings.HasPrefix(oid, ".") {
		oid = "." + oid
	}
	return strings.TrimSuffix(oid, ".")
}

func isPrintable(b []byte) bool {
	for _, c := range b {
		if (c < 0x20 && c != '\t' && c != '\n' && c != '\r') || c > 0x7e {
			return false
		}
	}
	return true
}
