package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/http/response"
)

// ContextActorKey ключ актора в gin.Context.
const ContextActorKey = "actor"

// TokenVerifier проверка access токена внешнего сервиса учётных записей.
type TokenVerifier interface {
	Verify(token string) (valueobject.Actor, error)
}

// AuthMiddleware проверяет Bearer токен и кладёт актора в контекст.
func AuthMiddleware(tokens TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
			response.Unauthorized(c, "требуется авторизация")
			return
		}

		actor, err := tokens.Verify(strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			response.Unauthorized(c, "токен невалиден")
			return
		}

		c.Set(ContextActorKey, actor)
		c.Next()
	}
}

// RequireRole пропускает только перечисленные роли.
func RequireRole(roles ...valueobject.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			response.Unauthorized(c, "требуется авторизация")
			return
		}
		for _, role := range roles {
			if actor.Is(role) {
				c.Next()
				return
			}
		}
		response.Forbidden(c, "недостаточно прав")
	}
}

// ActorFrom достаёт актора, положенного AuthMiddleware.
func ActorFrom(c *gin.Context) (valueobject.Actor, bool) {
	raw, exists := c.Get(ContextActorKey)
	if !exists {
		return valueobject.Actor{}, false
	}
	actor, ok := raw.(valueobject.Actor)
	return actor, ok
}
