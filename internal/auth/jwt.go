package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength — минимальная длина секрета HMAC.
const MinSecretLength = 32

const issuer = "terrainforge"

// ErrInvalidToken — токен не прошёл проверку подписи или срока.
var ErrInvalidToken = errors.New("invalid token")

// Claims represents JWT claims
type Claims struct {
	IsAdmin bool `json:"is_admin"`
	jwt.RegisteredClaims
}

// TokenManager подписывает и проверяет токены доступа к API.
type TokenManager struct {
	secret []byte
}

// NewTokenManager создаёт менеджер с секретом не короче MinSecretLength.
func NewTokenManager(secret string) (*TokenManager, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("секрет JWT должен быть не короче %d байт", MinSecretLength)
	}
	return &TokenManager{secret: []byte(secret)}, nil
}

// NewRandomTokenManager создаёт менеджер со случайным секретом.
// Выданные им токены живут только до перезапуска процесса.
func NewRandomTokenManager() *TokenManager {
	return &TokenManager{secret: []byte(GenerateSecureSecret())}
}

// Generate выпускает токен для subject.
func (tm *TokenManager) Generate(subject string, isAdmin bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secret)
}

// Validate checks token validity and returns its claims
func (tm *TokenManager) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secret, nil
	}, jwt.WithIssuer(issuer))

	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// GenerateSecureSecret generates a new secure secret key
func GenerateSecureSecret() string {
	b := make([]byte, MinSecretLength)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(b)
}
