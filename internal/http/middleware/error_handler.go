package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/helper-escrow/internal/http/response"
	"github.com/ignatzorin/helper-escrow/internal/logger"
	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
)

// ErrorHandler отдаёт ошибки, добавленные через c.Error, если хэндлер сам не ответил.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}
		response.Error(c, c.Errors.Last().Err)
	}
}

// Recovery превращает panic в InternalError и пишет стек в лог.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Log.WithFields(logrus.Fields{
					"panic":  fmt.Sprint(r),
					"path":   c.Request.URL.Path,
					"method": c.Request.Method,
					"stack":  string(debug.Stack()),
				}).Error("Panic в обработчике запроса")
				response.Error(c, apperror.New(apperror.ErrCodeInternal, "panic"))
			}
		}()
		c.Next()
	}
}

// RequestLogger пишет строку лога на каждый запрос.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		entry := logger.Log.WithFields(logrus.Fields{
			"status": c.Writer.Status(),
			"method": c.Request.Method,
			"path":   c.FullPath(),
			"ip":     c.ClientIP(),
		})
		if actor, ok := ActorFrom(c); ok {
			entry = entry.WithFields(logrus.Fields{"actor_id": actor.ID, "role": actor.Role})
		}
		if c.Writer.Status() >= 500 {
			entry.Warn("HTTP запрос")
			return
		}
		entry.Debug("HTTP запрос")
	}
}
