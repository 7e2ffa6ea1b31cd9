package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/vpbank/opsdash/models"
)

// SNMPClient is the subset of a gosnmp session used by snmp_get sources.
type SNMPClient interface {
	Get(oids []string) (*gosnmp.SnmpPacket, error)
	Close() error
}

// DialSNMP creates and connects a gosnmp session for target.
func DialSNMP(t models.SNMPTarget) (SNMPClient, error) {
	g, err := NewSNMPSession(t)
	if err != nil {
		return nil, err
	}
	if err := g.Connect(); err != nil {
		return nil, fmt.Errorf("source: snmp connect %s:%d: %w", g.Target, g.Port, err)
	}
	return snmpSession{g}, nil
}

// NewSNMPSession builds an unconnected gosnmp session for target.
func NewSNMPSession(t models.SNMPTarget) (*gosnmp.GoSNMP, error) {
	port := t.Port
	if port == 0 {
		port = 161
	}
	timeout := time.Duration(t.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	g := &gosnmp.GoSNMP{
		Target:  t.Host,
		Port:    port,
		Timeout: timeout,
		Retries: t.Retries,
		MaxOids: gosnmp.MaxOids,
	}

	switch t.Version {
	case "1":
		g.Version = gosnmp.Version1
		g.Community = communityOr(t.Community)
	case "", "2c":
		g.Version = gosnmp.Version2c
		g.Community = communityOr(t.Community)
	case "3":
		if t.V3 == nil {
			return nil, fmt.Errorf("source: snmp v3 requires credentials")
		}
		g.Version = gosnmp.Version3
		g.SecurityModel = gosnmp.UserSecurityModel
		g.MsgFlags = v3MsgFlags(*t.V3)
		g.SecurityParameters = &gosnmp.UsmSecurityParameters{
			UserName:                 t.V3.Username,
			AuthenticationProtocol:   authProto(t.V3.AuthenticationProtocol),
			AuthenticationPassphrase: t.V3.AuthenticationPassphrase,
			PrivacyProtocol:          privProto(t.V3.PrivacyProtocol),
			PrivacyPassphrase:        t.V3.PrivacyPassphrase,
		}
	default:
		return nil, fmt.Errorf("source: unsupported snmp version %q", t.Version)
	}
	return g, nil
}

func communityOr(c string) string {
	if c == "" {
		return "public"
	}
	return c
}

type snmpSession struct{ g *gosnmp.GoSNMP }

func (s snmpSession) Get(oids []string) (*gosnmp.SnmpPacket, error) { return s.g.Get(oids) }

func (s snmpSession) Close() error {
	if s.g.Conn == nil {
		return nil
	}
	return s.g.Conn.Close()
}

// buildSNMPGet reads one numeric OID per cycle. The session is dialled lazily
// and dropped after a failed GET so the next cycle reconnects. Counter values
// are reported as a per-second rate.
func buildSNMPGet(spec models.SourceSpec, deps Deps) (Source, error) {
	if spec.SNMP == nil || spec.SNMP.Host == "" || spec.SNMP.OID == "" {
		return nil, fmt.Errorf("snmp.host and snmp.oid are required")
	}
	target := *spec.SNMP
	if _, err := NewSNMPSession(target); err != nil {
		return nil, err
	}

	dial, now := deps.DialSNMP, deps.Now
	counters := NewCounterState()
	var client SNMPClient

	return Func(func(ctx context.Context) Reading {
		if err := ctx.Err(); err != nil {
			return Reading{Err: err}
		}
		if client == nil {
			c, err := dial(target)
			if err != nil {
				return Reading{Err: err}
			}
			client = c
		}

		pkt, err := client.Get([]string{target.OID})
		if err != nil {
			_ = client.Close()
			client = nil
			return Reading{Err: fmt.Errorf("source: snmp get %s: %w", target.OID, err)}
		}
		if len(pkt.Variables) == 0 {
			return Reading{Err: fmt.Errorf("source: snmp get %s: empty response", target.OID)}
		}

		pdu := pkt.Variables[0]
		switch pdu.Type {
		case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView, gosnmp.Null:
			return Reading{Err: fmt.Errorf("source: snmp get %s: %s", target.OID, pdu.Type)}
		}

		raw := gosnmp.ToBigInt(pdu.Value)
		if !target.Counter {
			return Reading{Value: float64(raw.Int64())}
		}
		wrap := Wrap64
		if pdu.Type == gosnmp.Counter32 {
			wrap = Wrap32
		}
		d := counters.Delta(target.OID, raw.Uint64(), now(), wrap)
		return Reading{Value: d.Rate(), Extra: map[string]float64{"raw": float64(raw.Uint64())}}
	}), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// SNMPv3 helpers
// ─────────────────────────────────────────────────────────────────────────────

func v3MsgFlags(c models.SNMPv3) gosnmp.SnmpV3MsgFlags {
	switch strings.ToLower(c.SecurityLevel) {
	case "authpriv":
		return gosnmp.AuthPriv
	case "authnopriv":
		return gosnmp.AuthNoPriv
	case "noauthnopriv":
		return gosnmp.NoAuthNoPriv
	}
	hasAuth := c.AuthenticationProtocol != "" && !strings.EqualFold(c.AuthenticationProtocol, "noauth")
	hasPriv := c.PrivacyProtocol != "" && !strings.EqualFold(c.PrivacyProtocol, "nopriv")
	switch {
	case hasAuth && hasPriv:
		return gosnmp.AuthPriv
	case hasAuth:
		return gosnmp.AuthNoPriv
	default:
		return gosnmp.NoAuthNoPriv
	}
}

func authProto(s string) gosnmp.SnmpV3AuthProtocol {
	switch strings.ToLower(s) {
	case "md5":
		return gosnmp.MD5
	case "sha":
		return gosnmp.SHA
	case "sha256":
		return gosnmp.SHA256
	case "sha512":
		return gosnmp.SHA512
	default:
		return gosnmp.NoAuth
	}
}

func privProto(s string) gosnmp.SnmpV3PrivProtocol {
	switch strings.ToLower(s) {
	case "des":
		return gosnmp.DES
	case "aes":
		return gosnmp.AES
	case "aes256":
		return gosnmp.AES256
	default:
		return gosnmp.NoPriv
	}
}
