package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrMissingToken     = errors.New("missing authentication token")
	ErrInvalidClaims    = errors.New("invalid token claims")
)

// Claims represents the JWT claims
type Claims struct {
	UserID string   `json:"sub"`
	Email  string   `json:"email,omitempty"`
	Name   string   `json:"name,omitempty"`
	Roles  []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SigningMethod string   // RS256 or HS256
	PublicKey     string   // For RS256
	PrivateKey    string   // For RS256 signing
	SecretKey     string   // For HS256
	Issuer        string   // Expected issuer
	Audience      []string // Expected audience
	ExpiryTime    time.Duration
}

type keys struct {
	method     jwt.SigningMethod
	publicKey  *rsa.PublicKey
	privateKey *rsa.PrivateKey
	secret     []byte
}

func loadKeys(config JWTConfig, signing bool) (keys, error) {
	switch config.SigningMethod {
	case "RS256":
		k := keys{method: jwt.SigningMethodRS256}
		if signing {
			if config.PrivateKey == "" {
				return keys{}, errors.New("private key required for RS256")
			}
			key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(config.PrivateKey))
			if err != nil {
				return keys{}, fmt.Errorf("failed to parse private key: %w", err)
			}
			k.privateKey = key
			return k, nil
		}
		if config.PublicKey == "" {
			return keys{}, errors.New("public key required for RS256")
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(config.PublicKey))
		if err != nil {
			return keys{}, fmt.Errorf("failed to parse public key: %w", err)
		}
		k.publicKey = key
		return k, nil
	case "HS256", "":
		if config.SecretKey == "" {
			return keys{}, errors.New("secret key required for HS256")
		}
		return keys{method: jwt.SigningMethodHS256, secret: []byte(config.SecretKey)}, nil
	default:
		return keys{}, fmt.Errorf("unsupported signing method: %s", config.SigningMethod)
	}
}

// JWTValidator handles JWT validation
type JWTValidator struct {
	keys     keys
	issuer   string
	audience []string
}

// NewJWTValidator creates a new JWT validator
func NewJWTValidator(config JWTConfig) (*JWTValidator, error) {
	k, err := loadKeys(config, false)
	if err != nil {
		return nil, err
	}
	return &JWTValidator{keys: k, issuer: config.Issuer, audience: config.Audience}, nil
}

// ValidateToken validates a JWT token and returns the claims
func (v *JWTValidator) ValidateToken(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != v.keys.method {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
		}
		if v.keys.publicKey != nil {
			return v.keys.publicKey, nil
		}
		return v.keys.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		if errors.Is(err, jwt.ErrSignatureInvalid) {
			return nil, ErrInvalidSignature
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: invalid issuer", ErrInvalidClaims)
	}
	if len(v.audience) > 0 && !slices.ContainsFunc(v.audience, func(aud string) bool {
		return slices.Contains(claims.Audience, aud)
	}) {
		return nil, fmt.Errorf("%w: invalid audience", ErrInvalidClaims)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user ID", ErrInvalidClaims)
	}

	return claims, nil
}

// JWTGenerator generates JWT tokens
type JWTGenerator struct {
	keys       keys
	issuer     string
	audience   []string
	expiryTime time.Duration
}

// NewJWTGenerator creates a new JWT generator
func NewJWTGenerator(config JWTConfig) (*JWTGenerator, error) {
	k, err := loadKeys(config, true)
	if err != nil {
		return nil, err
	}
	expiry := config.ExpiryTime
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &JWTGenerator{keys: k, issuer: config.Issuer, audience: config.Audience, expiryTime: expiry}, nil
}

// GenerateToken generates a new JWT token
func (g *JWTGenerator) GenerateToken(user UserContext) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: user.UserID,
		Email:  user.Email,
		Name:   user.Name,
		Roles:  user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    g.issuer,
			Subject:   user.UserID,
			Audience:  g.audience,
			ExpiresAt: jwt.NewNumericDate(now.Add(g.expiryTime)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}

	var key interface{} = g.keys.secret
	if g.keys.privateKey != nil {
		key = g.keys.privateKey
	}
	return jwt.NewWithClaims(g.keys.method, claims).SignedString(key)
}

// UserContext represents user information from JWT
type UserContext struct {
	UserID string
	Email  string
	Name   string
	Roles  []string
}

// UserFromClaims builds the request user of validated claims
func UserFromClaims(claims *Claims) *UserContext {
	return &UserContext{
		UserID: claims.UserID,
		Email:  claims.Email,
		Name:   claims.Name,
		Roles:  claims.Roles,
	}
}

type contextKey string

const userContextKey contextKey = "user"

// GetUserFromContext extracts user from context
func GetUserFromContext(ctx context.Context) (*UserContext, error) {
	user, ok := ctx.Value(userContextKey).(*UserContext)
	if !ok || user == nil {
		return nil, errors.New("user not found in context")
	}
	return user, nil
}

// SetUserInContext adds user to context
func SetUserInContext(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}
