// Package snmp implements a model-based connector for SNMP agents. Object
// identifiers are the qualified names of the model, "." is the separator.
// Monitored OIDs are sampled by the connector's poll task.
package snmp

import (
	"fmt"
	"math"
	"strings"

	"github.com/gosnmp/gosnmp"

	"github.com/c360/semconnect/connector"
	"github.com/c360/semconnect/errors"
)

// Specific parameter keys.
const (
	KeyCommunity       = "COMMUNITY"
	KeyAuthProtocol    = "AUTH_PROTOCOL"
	KeyPrivacyProtocol = "PRIV_PROTOCOL"
	KeyPrivacyPassword = "PRIV_PASSWORD"
	KeyRetries         = "RETRIES"
)

// Versions accepted in connector.Parameter.Version.
const (
	Version1  = "1"
	Version2c = "2c"
	Version3  = "3"
)

const (
	defaultPort      = 161
	defaultCommunity = "public"
)

// Client is the subset of gosnmp used by the connector.
type Client interface {
	Connect() error
	Close() error
	Get(oids []string) (*gosnmp.SnmpPacket, error)
	Set(pdus []gosnmp.SnmpPDU) (*gosnmp.SnmpPacket, error)
	WalkAll(rootOid string) ([]gosnmp.SnmpPDU, error)
}

// Dialer creates an unconnected client for the parameters.
type Dialer func(params connector.Parameter) (Client, error)

type goSNMPClient struct {
	*gosnmp.GoSNMP
}

func (c goSNMPClient) Close() error {
	if c.Conn == nil {
		return nil
	}
	return c.Conn.Close()
}

// DialGoSNMP configures a gosnmp client from params. Version 3 takes the
// user from the username identity token and the protocols from the
// specific settings.
func DialGoSNMP(params connector.Parameter) (Client, error) {
	port := params.Port()
	if port == 0 {
		port = defaultPort
	}
	client := &gosnmp.GoSNMP{
		Target:             params.Host(),
		Port:               uint16(port),
		Timeout:            params.RequestTimeout(),
		Retries:            1,
		MaxOids:            gosnmp.MaxOids,
		MaxRepetitions:     10,
		ExponentialTimeout: true,
	}
	if retries, ok := params.SpecificInt(KeyRetries); ok {
		client.Retries = retries
	}
	if err := configureVersion(client, params); err != nil {
		return nil, err
	}
	return goSNMPClient{client}, nil
}

func configureVersion(client *gosnmp.GoSNMP, params connector.Parameter) error {
	community, ok := params.Specific(KeyCommunity)
	if !ok {
		community = defaultCommunity
	}

	switch params.Version() {
	case Version1:
		client.Version = gosnmp.Version1
		client.Community = community
	case Version2c, "":
		client.Version = gosnmp.Version2c
		client.Community = community
	case Version3:
		client.Version = gosnmp.Version3
		client.SecurityModel = gosnmp.UserSecurityModel
		usm := &gosnmp.UsmSecurityParameters{}
		if tok, ok := params.IdentityToken(connector.AnyEndpoint); ok && tok.Type == connector.TokenUsername {
			usm.UserName = tok.Username
			usm.AuthenticationPassphrase = tok.Password
		}
		auth, _ := params.Specific(KeyAuthProtocol)
		usm.AuthenticationProtocol = authProtocol(auth)
		priv, _ := params.Specific(KeyPrivacyProtocol)
		usm.PrivacyProtocol = privacyProtocol(priv)
		usm.PrivacyPassphrase, _ = params.Specific(KeyPrivacyPassword)

		client.MsgFlags = gosnmp.NoAuthNoPriv
		if usm.AuthenticationProtocol != gosnmp.NoAuth {
			client.MsgFlags = gosnmp.AuthNoPriv
			if usm.PrivacyProtocol != gosnmp.NoPriv {
				client.MsgFlags = gosnmp.AuthPriv
			}
		}
		client.SecurityParameters = usm
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: snmp version %q", errors.ErrInvalidConfig, params.Version()),
			"snmp", "DialGoSNMP", "version selection")
	}
	return nil
}

func authProtocol(name string) gosnmp.SnmpV3AuthProtocol {
	switch strings.ToUpper(name) {
	case "MD5":
		return gosnmp.MD5
	case "SHA":
		return gosnmp.SHA
	case "SHA224":
		return gosnmp.SHA224
	case "SHA256":
		return gosnmp.SHA256
	case "SHA384":
		return gosnmp.SHA384
	case "SHA512":
		return gosnmp.SHA512
	}
	return gosnmp.NoAuth
}

func privacyProtocol(name string) gosnmp.SnmpV3PrivProtocol {
	switch strings.ToUpper(name) {
	case "DES":
		return gosnmp.DES
	case "AES":
		return gosnmp.AES
	case "AES192":
		return gosnmp.AES192
	case "AES256":
		return gosnmp.AES256
	}
	return gosnmp.NoPriv
}

// FromPDU converts an SNMP variable into a Go value. Integers become
// int64, octet strings and OIDs strings.
func FromPDU(pdu gosnmp.SnmpPDU) (any, error) {
	switch pdu.Type {
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView:
		return nil, errors.NotFound("snmp", "FromPDU", pdu.Name)
	case gosnmp.OctetString, gosnmp.ObjectDescription, gosnmp.BitString, gosnmp.Opaque:
		switch v := pdu.Value.(type) {
		case []byte:
			return string(v), nil
		case string:
			return v, nil
		}
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s has value %T", errors.ErrTypeMismatch, pdu.Name, pdu.Value),
			"snmp", "FromPDU", "string conversion")
	case gosnmp.ObjectIdentifier, gosnmp.IPAddress:
		if s, ok := pdu.Value.(string); ok {
			return s, nil
		}
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s has value %T", errors.ErrTypeMismatch, pdu.Name, pdu.Value),
			"snmp", "FromPDU", "string conversion")
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Gauge32, gosnmp.TimeTicks, gosnmp.Uinteger32:
		return gosnmp.ToBigInt(pdu.Value).Int64(), nil
	case gosnmp.Counter64:
		return gosnmp.ToBigInt(pdu.Value), nil
	case gosnmp.OpaqueFloat:
		if f, ok := pdu.Value.(float32); ok {
			return float64(f), nil
		}
	case gosnmp.OpaqueDouble:
		if f, ok := pdu.Value.(float64); ok {
			return f, nil
		}
	case gosnmp.Null:
		return nil, nil
	}
	return nil, errors.WrapInvalid(fmt.Errorf("%w: %s has type %s", errors.ErrTypeMismatch, pdu.Name, pdu.Type),
		"snmp", "FromPDU", "type conversion")
}

// ToPDU converts a Go value into an SNMP variable for oid. Booleans map to
// the TruthValue convention (1 true, 2 false).
func ToPDU(oid string, value any) (gosnmp.SnmpPDU, error) {
	pdu := gosnmp.SnmpPDU{Name: oid}
	switch v := value.(type) {
	case int:
		pdu.Type, pdu.Value = gosnmp.Integer, v
	case int32:
		pdu.Type, pdu.Value = gosnmp.Integer, int(v)
	case int64:
		pdu.Type, pdu.Value = gosnmp.Integer, int(v)
	case uint:
		pdu.Type, pdu.Value = gosnmp.Gauge32, uint32(v)
	case uint32:
		pdu.Type, pdu.Value = gosnmp.Gauge32, v
	case float64:
		// decoded JSON numbers
		if v != math.Trunc(v) || v < math.MinInt32 || v > math.MaxInt32 {
			return pdu, errors.WrapInvalid(fmt.Errorf("%w: %v is not an integer for %s", errors.ErrTypeMismatch, v, oid),
				"snmp", "ToPDU", "type conversion")
		}
		pdu.Type, pdu.Value = gosnmp.Integer, int(v)
	case string:
		pdu.Type, pdu.Value = gosnmp.OctetString, v
	case []byte:
		pdu.Type, pdu.Value = gosnmp.OctetString, v
	case bool:
		pdu.Type, pdu.Value = gosnmp.Integer, 2
		if v {
			pdu.Value = 1
		}
	default:
		return pdu, errors.WrapInvalid(fmt.Errorf("%w: cannot write %T to %s", errors.ErrTypeMismatch, value, oid),
			"snmp", "ToPDU", "type conversion")
	}
	return pdu, nil
}

func checkPacket(packet *gosnmp.SnmpPacket, method string) error {
	if packet == nil {
		return errors.WrapTransient(errors.ErrReadFailed, "snmp", method, "response check")
	}
	if packet.Error != gosnmp.NoError {
		return errors.WrapTransient(fmt.Errorf("%w: agent error %s", errors.ErrReadFailed, packet.Error),
			"snmp", method, "response check")
	}
	return nil
}
