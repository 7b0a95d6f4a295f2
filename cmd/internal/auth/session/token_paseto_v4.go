package session

import (
	"errors"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// TokenTypeAccess is the "type" claim carried by every access token.
const TokenTypeAccess = "access"

// AccessClaims is the identity envelope carried by an access token.
type AccessClaims struct {
	UserID    string
	Role      string
	Email     string
	DeviceID  string
	Type      string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
}

// AccessTokenManager issues and verifies short-lived access tokens.
type AccessTokenManager interface {
	Issue(claims AccessClaims, now time.Time, ttl time.Duration) (token string, exp time.Time, err error)
	Verify(token string, now time.Time) (AccessClaims, error)
	PublicKeyHex() string
}

type pasetoV4PublicManager struct {
	issuer    string
	clockSkew time.Duration

	secret   paseto.V4AsymmetricSecretKey
	public   paseto.V4AsymmetricPublicKey
	previous []paseto.V4AsymmetricPublicKey
}

// NewPasetoV4PublicManager builds an AccessTokenManager signing PASETO v4.public
// tokens with the configured Ed25519 key. Previous public keys are accepted for
// verification only.
func NewPasetoV4PublicManager(cfg Config) (AccessTokenManager, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
	if err != nil {
		return nil, ConfigError{Key: "VNIPET_PASETO_V4_SECRET_KEY_HEX"}
	}

	m := &pasetoV4PublicManager{
		issuer:    cfg.Issuer,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}
	for _, h := range cfg.PasetoV4PreviousPublicKeysHex {
		pk, err := paseto.NewV4AsymmetricPublicKeyFromHex(h)
		if err != nil {
			return nil, ConfigError{Key: "VNIPET_PASETO_V4_PREVIOUS_PUBLIC_KEYS_HEX"}
		}
		m.previous = append(m.previous, pk)
	}
	return m, nil
}

func (m *pasetoV4PublicManager) PublicKeyHex() string {
	return m.public.ExportHex()
}

func (m *pasetoV4PublicManager) Issue(c AccessClaims, now time.Time, ttl time.Duration) (string, time.Time, error) {
	if c.UserID == "" || c.DeviceID == "" {
		return "", time.Time{}, ErrInvalidToken
	}
	// PASETO timestamps are RFC 3339 with second precision.
	now = now.UTC().Truncate(time.Second)
	exp := now.Add(ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)

	tok.SetString("id", c.UserID)
	tok.SetString("role", c.Role)
	tok.SetString("email", c.Email)
	tok.SetString("deviceId", c.DeviceID)
	tok.SetString("type", TokenTypeAccess)

	return tok.V4Sign(m.secret, nil), exp, nil
}

func (m *pasetoV4PublicManager) Verify(token string, now time.Time) (AccessClaims, error) {
	if token == "" || len(token) > 4096 {
		return AccessClaims{}, ErrInvalidToken
	}

	parsed, err := m.parse(token)
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}

	exp, err := parsed.GetExpiration()
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}
	nbf, err := parsed.GetNotBefore()
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}
	iat, _ := parsed.GetIssuedAt()
	iss, _ := parsed.GetIssuer()

	if now.Add(m.clockSkew).Before(nbf) {
		return AccessClaims{}, ErrInvalidToken
	}

	typ, err := parsed.GetString("type")
	if err != nil || typ != TokenTypeAccess {
		return AccessClaims{}, ErrWrongTokenType
	}

	claims := AccessClaims{Type: typ, IssuedAt: iat, ExpiresAt: exp, Issuer: iss}
	if claims.UserID, err = parsed.GetString("id"); err != nil || claims.UserID == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	if claims.DeviceID, err = parsed.GetString("deviceId"); err != nil || claims.DeviceID == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	claims.Role, _ = parsed.GetString("role")
	claims.Email, _ = parsed.GetString("email")

	// Expiry is checked last so callers only see ErrTokenExpired for tokens
	// that are otherwise well formed.
	if !now.Before(exp) {
		return claims, ErrTokenExpired
	}
	return claims, nil
}

// parse tries the active key, then each retired key.
func (m *pasetoV4PublicManager) parse(token string) (*paseto.Token, error) {
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(m.issuer))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err == nil {
		return parsed, nil
	}
	for _, pk := range m.previous {
		if parsed, perr := p.ParseV4Public(pk, token, nil); perr == nil {
			return parsed, nil
		}
	}
	return nil, err
}

// Verdict is the coarse outcome of verifying an access token.
type Verdict int

const (
	// VerdictValid means the token can be used.
	VerdictValid Verdict = iota
	// VerdictExpired means the client should refresh or log in again.
	VerdictExpired
	// VerdictInvalid means the token should be rejected silently.
	VerdictInvalid
)

func (v Verdict) String() string {
	switch v {
	case VerdictValid:
		return "valid"
	case VerdictExpired:
		return "expired"
	default:
		return "invalid"
	}
}

// Classify maps a verification error onto a Verdict.
func Classify(err error) Verdict {
	switch {
	case err == nil:
		return VerdictValid
	case errors.Is(err, ErrTokenExpired):
		return VerdictExpired
	default:
		return VerdictInvalid
	}
}
