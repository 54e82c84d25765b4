package jwt

import (
	"errors"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Valores fijos del emisor. Todo token firmado por este servicio los lleva;
// la verificación los exige.
const (
	Issuer   = "souche-api"
	Audience = "souche-client"
)

// Discriminador de tipo embebido en el claim "token_use". Un access token
// jamás verifica como refresh ni al revés, incluso con firma válida.
const (
	UseAccess  = "access"
	UseRefresh = "refresh"
)

var (
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenInvalid      = errors.New("token invalid")
	ErrTokenTypeMismatch = errors.New("token type mismatch")
)

// AccessClaims son los claims de un access token.
type AccessClaims struct {
	UserID    int64  `json:"user_id"`
	Email     string `json:"email"`
	ProfileID int64  `json:"profile_id,omitempty"`
	TokenUse  string `json:"token_use"`
	jwtv5.RegisteredClaims
}

// RefreshClaims son los claims de un refresh token. TokenID ("tid") referencia
// la fila persistida del token; la revocación se decide contra esa fila.
type RefreshClaims struct {
	UserID   int64  `json:"user_id"`
	TokenID  string `json:"tid"`
	TokenUse string `json:"token_use"`
	jwtv5.RegisteredClaims
}

// Codec firma y verifica los dos tipos de token con secretos HMAC
// independientes. Comprometer uno no permite forjar el otro.
type Codec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// NewCodec construye el codec. Los TTLs en cero caen a 15m / 168h.
func NewCodec(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *Codec {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 168 * time.Hour
	}
	return &Codec{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

// AccessTTL expone el TTL configurado del access token.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL expone el TTL configurado del refresh token.
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// SignAccess emite un access token HS256 para el usuario.
func (c *Codec) SignAccess(userID int64, email string, profileID int64) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(c.accessTTL)

	claims := AccessClaims{
		UserID:    userID,
		Email:     email,
		ProfileID: profileID,
		TokenUse:  UseAccess,
		RegisteredClaims: jwtv5.RegisteredClaims{
			// El jti hace único cada token: dos emisiones en el mismo
			// segundo no pueden compartir hash de sesión.
			ID:        uuid.NewString(),
			Issuer:    Issuer,
			Audience:  jwtv5.ClaimStrings{Audience},
			Subject:   fmt.Sprintf("%d", userID),
			IssuedAt:  jwtv5.NewNumericDate(now),
			NotBefore: jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(exp),
		},
	}

	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	signed, err := tk.SignedString(c.accessSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// SignRefresh emite un refresh token HS256 que embebe el id de fila (tid).
func (c *Codec) SignRefresh(userID int64, tokenID string) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(c.refreshTTL)

	claims := RefreshClaims{
		UserID:   userID,
		TokenID:  tokenID,
		TokenUse: UseRefresh,
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:    Issuer,
			Audience:  jwtv5.ClaimStrings{Audience},
			Subject:   fmt.Sprintf("%d", userID),
			IssuedAt:  jwtv5.NewNumericDate(now),
			NotBefore: jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(exp),
		},
	}

	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	signed, err := tk.SignedString(c.refreshSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// VerifyAccess valida firma, iss, aud, exp y token_use de un access token.
func (c *Codec) VerifyAccess(raw string) (*AccessClaims, error) {
	var claims AccessClaims
	if err := c.parse(raw, &claims, c.accessSecret); err != nil {
		return nil, err
	}
	if claims.TokenUse != UseAccess {
		return nil, ErrTokenTypeMismatch
	}
	return &claims, nil
}

// VerifyRefresh valida firma, iss, aud, exp y token_use de un refresh token.
func (c *Codec) VerifyRefresh(raw string) (*RefreshClaims, error) {
	var claims RefreshClaims
	if err := c.parse(raw, &claims, c.refreshSecret); err != nil {
		return nil, err
	}
	if claims.TokenUse != UseRefresh {
		return nil, ErrTokenTypeMismatch
	}
	return &claims, nil
}

func (c *Codec) parse(raw string, claims jwtv5.Claims, secret []byte) error {
	tk, err := jwtv5.ParseWithClaims(raw, claims, func(t *jwtv5.Token) (any, error) {
		if _, ok := t.Method.(*jwtv5.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	},
		jwtv5.WithIssuer(Issuer),
		jwtv5.WithAudience(Audience),
		jwtv5.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwtv5.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !tk.Valid {
		return ErrTokenInvalid
	}
	return nil
}
