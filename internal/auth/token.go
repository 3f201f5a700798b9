package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
)

var ErrInvalidToken = errors.New("auth: недействительный токен")

// TokenVerifier проверяет access токены, выпущенные внешним сервисом учётных записей.
// Из токена берутся только sub и role.
type TokenVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verify возвращает актора из токена. Роль system извне не принимается.
func (v *TokenVerifier) Verify(token string) (valueobject.Actor, error) {
	parsed, err := v.parser.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return valueobject.Actor{}, ErrInvalidToken
	}

	c, ok := parsed.Claims.(*claims)
	if !ok {
		return valueobject.Actor{}, ErrInvalidToken
	}
	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return valueobject.Actor{}, ErrInvalidToken
	}
	return valueobject.NewActor(userID, c.Role)
}
