package connector

import (
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360/semconnect/pkg/tlsutil"
)

// Specific keys of the TLS client settings.
const (
	KeyCAFile     = "CA_FILE"
	KeyCertFile   = "CERT_FILE"
	KeyKeyFile    = "KEY_FILE"
	KeyTLSVersion = "TLS_MIN_VERSION"
)

// Schema is the transport schema of a connection.
type Schema string

// Known schemas.
const (
	SchemaTCP   Schema = "tcp"
	SchemaSSL   Schema = "ssl"
	SchemaHTTP  Schema = "http"
	SchemaHTTPS Schema = "https"
	SchemaWS    Schema = "ws"
	SchemaWSS   Schema = "wss"
	SchemaUDP   Schema = "udp"
)

// Platform-wide defaults applied by the builder.
const (
	DefaultSchema               = SchemaTCP
	DefaultRequestTimeout       = 5000 * time.Millisecond
	DefaultNotificationInterval = 1000 * time.Millisecond
	DefaultKeepAlive            = 2000 * time.Millisecond
)

// AnyEndpoint is the identity key used for endpoints without an own token.
const AnyEndpoint = ""

// TokenType identifies the kind of an IdentityToken.
type TokenType int

// Token types.
const (
	TokenAnonymous TokenType = iota
	TokenUsername
	TokenIssued
	TokenX509
)

// String returns the token type name.
func (t TokenType) String() string {
	switch t {
	case TokenAnonymous:
		return "anonymous"
	case TokenUsername:
		return "username"
	case TokenIssued:
		return "issued"
	case TokenX509:
		return "x509"
	default:
		return "unknown"
	}
}

// IdentityToken carries the credentials presented to an endpoint.
type IdentityToken struct {
	Type      TokenType
	Username  string
	Password  string
	Token     []byte
	Algorithm string
}

// AnonymousToken returns an anonymous identity.
func AnonymousToken() IdentityToken {
	return IdentityToken{Type: TokenAnonymous}
}

// UsernameToken returns a username/password identity.
func UsernameToken(username, password string) IdentityToken {
	return IdentityToken{Type: TokenUsername, Username: username, Password: password}
}

// IssuedToken returns an identity based on an issued token such as a JWT.
func IssuedToken(token []byte, algorithm string) IdentityToken {
	return IdentityToken{Type: TokenIssued, Token: token, Algorithm: algorithm}
}

// X509Token returns an identity based on a DER encoded certificate.
func X509Token(der []byte) IdentityToken {
	return IdentityToken{Type: TokenX509, Token: der}
}

// Parameter is the immutable connection configuration of a connector.
// Create it with a ParameterBuilder.
type Parameter struct {
	host                 string
	port                 int
	schema               Schema
	endpointPath         string
	applicationID        string
	applicationDesc      string
	autoApplicationID    bool
	requestTimeout       time.Duration
	notificationInterval time.Duration
	keepAlive            time.Duration
	identities           map[string]IdentityToken
	hostnameVerification bool
	keyAlias             string
	version              string
	specific             map[string]string
}

// Host returns the host, device path or broker name to connect to.
func (p Parameter) Host() string { return p.host }

// Port returns the port to connect to.
func (p Parameter) Port() int { return p.port }

// Schema returns the connection schema.
func (p Parameter) Schema() Schema { return p.schema }

// EndpointPath returns the endpoint path, e.g. a URL path or topic prefix.
func (p Parameter) EndpointPath() string { return p.endpointPath }

// ApplicationID returns the configured application id.
func (p Parameter) ApplicationID() string { return p.applicationID }

// ApplicationDescription returns the application description.
func (p Parameter) ApplicationDescription() string { return p.applicationDesc }

// AutoApplicationID reports whether the application id is made unique on connect.
func (p Parameter) AutoApplicationID() bool { return p.autoApplicationID }

// RequestTimeout returns the timeout for a single device request.
func (p Parameter) RequestTimeout() time.Duration { return p.requestTimeout }

// NotificationInterval returns the polling/notification interval. Zero means
// event-driven delivery.
func (p Parameter) NotificationInterval() time.Duration { return p.notificationInterval }

// KeepAlive returns the keep-alive interval of the session.
func (p Parameter) KeepAlive() time.Duration { return p.keepAlive }

// HostnameVerification reports whether TLS host names are verified.
func (p Parameter) HostnameVerification() bool { return p.hostnameVerification }

// KeyAlias returns the alias of the key used for TLS, empty for none.
func (p Parameter) KeyAlias() string { return p.keyAlias }

// Version returns the declared protocol version used by factories.
func (p Parameter) Version() string { return p.version }

// UniqueApplicationID returns the application id to present on connect. With
// AutoApplicationID a random suffix is appended.
func (p Parameter) UniqueApplicationID() string {
	if !p.autoApplicationID {
		return p.applicationID
	}
	if p.applicationID == "" {
		return uuid.NewString()
	}
	return p.applicationID + "-" + uuid.NewString()
}

// IdentityToken returns the token for endpoint, falling back to the
// AnyEndpoint token. ok is false if neither exists.
func (p Parameter) IdentityToken(endpoint string) (IdentityToken, bool) {
	if t, ok := p.identities[endpoint]; ok {
		return t, true
	}
	t, ok := p.identities[AnyEndpoint]
	return t, ok
}

// IsAnonymousIdentity reports whether no identity tokens are configured.
func (p Parameter) IsAnonymousIdentity() bool {
	return len(p.identities) == 0
}

// Specific returns a connector-specific setting. Keys are case insensitive.
func (p Parameter) Specific(key string) (string, bool) {
	v, ok := p.specific[strings.ToUpper(key)]
	return v, ok
}

// SpecificInt returns a connector-specific integer setting. ok is false if
// the setting is missing or not an integer.
func (p Parameter) SpecificInt(key string) (int, bool) {
	v, ok := p.Specific(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// WithHostPort returns a copy bound to another host, port and schema. An
// empty schema keeps the current one.
func (p Parameter) WithHostPort(host string, port int, schema Schema) Parameter {
	c := p
	c.host = host
	c.port = port
	if schema != "" {
		c.schema = schema
	}
	c.identities = maps.Clone(p.identities)
	c.specific = maps.Clone(p.specific)
	return c
}

// ParameterBuilder creates Parameter values with platform defaults.
type ParameterBuilder struct {
	p Parameter
}

// NewParameterBuilder starts a parameter for host and port.
func NewParameterBuilder(host string, port int) *ParameterBuilder {
	return &ParameterBuilder{p: Parameter{
		host:                 host,
		port:                 port,
		schema:               DefaultSchema,
		autoApplicationID:    true,
		requestTimeout:       DefaultRequestTimeout,
		notificationInterval: DefaultNotificationInterval,
		keepAlive:            DefaultKeepAlive,
		hostnameVerification: true,
	}}
}

// Schema sets the connection schema.
func (b *ParameterBuilder) Schema(s Schema) *ParameterBuilder {
	b.p.schema = s
	return b
}

// EndpointPath sets the endpoint path.
func (b *ParameterBuilder) EndpointPath(path string) *ParameterBuilder {
	b.p.endpointPath = path
	return b
}

// RequestTimeout sets the request timeout.
func (b *ParameterBuilder) RequestTimeout(d time.Duration) *ParameterBuilder {
	b.p.requestTimeout = d
	return b
}

// NotificationInterval sets the polling interval, zero for event-driven delivery.
func (b *ParameterBuilder) NotificationInterval(d time.Duration) *ParameterBuilder {
	b.p.notificationInterval = d
	return b
}

// KeepAlive sets the keep-alive interval.
func (b *ParameterBuilder) KeepAlive(d time.Duration) *ParameterBuilder {
	b.p.keepAlive = d
	return b
}

// ApplicationInformation sets application id and description.
func (b *ParameterBuilder) ApplicationInformation(id, description string) *ParameterBuilder {
	b.p.applicationID = id
	b.p.applicationDesc = description
	return b
}

// AutoApplicationID controls whether the application id is made unique (default true).
func (b *ParameterBuilder) AutoApplicationID(auto bool) *ParameterBuilder {
	b.p.autoApplicationID = auto
	return b
}

// Identity sets the token for an endpoint. Use AnyEndpoint for all endpoints.
func (b *ParameterBuilder) Identity(endpoint string, token IdentityToken) *ParameterBuilder {
	if b.p.identities == nil {
		b.p.identities = make(map[string]IdentityToken)
	}
	b.p.identities[endpoint] = token
	return b
}

// HostnameVerification toggles TLS host name verification (default true).
func (b *ParameterBuilder) HostnameVerification(verify bool) *ParameterBuilder {
	b.p.hostnameVerification = verify
	return b
}

// KeyAlias sets the TLS key alias.
func (b *ParameterBuilder) KeyAlias(alias string) *ParameterBuilder {
	b.p.keyAlias = alias
	return b
}

// Version declares the protocol version for factory dispatch.
func (b *ParameterBuilder) Version(v string) *ParameterBuilder {
	b.p.version = v
	return b
}

// Specific sets a connector-specific setting.
func (b *ParameterBuilder) Specific(key, value string) *ParameterBuilder {
	if b.p.specific == nil {
		b.p.specific = make(map[string]string)
	}
	b.p.specific[strings.ToUpper(key)] = value
	return b
}

// Build returns the parameter. The builder may be reused afterwards without
// affecting the returned value.
func (b *ParameterBuilder) Build() Parameter {
	p := b.p
	p.identities = maps.Clone(b.p.identities)
	p.specific = maps.Clone(b.p.specific)
	return p
}

// Secure reports whether the schema of p requires TLS.
func (p Parameter) Secure() bool {
	switch p.schema {
	case SchemaSSL, SchemaHTTPS, SchemaWSS:
		return true
	}
	return false
}

// TLSConfig returns the TLS client settings of p. Disabled host name
// verification skips certificate verification.
func (p Parameter) TLSConfig() tlsutil.ClientConfig {
	cfg := tlsutil.ClientConfig{InsecureSkipVerify: !p.hostnameVerification}
	if ca, ok := p.Specific(KeyCAFile); ok && ca != "" {
		cfg.CAFiles = []string{ca}
	}
	cfg.CertFile, _ = p.Specific(KeyCertFile)
	cfg.KeyFile, _ = p.Specific(KeyKeyFile)
	cfg.MinVersion, _ = p.Specific(KeyTLSVersion)
	return cfg
}
