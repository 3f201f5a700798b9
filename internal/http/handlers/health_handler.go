package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type DBPinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler проверка зависимостей сервиса.
type HealthHandler struct {
	db    DBPinger
	redis *redis.Client
	rails []string
}

// NewHealthHandler: redis может быть nil, если лимитер живёт в памяти.
func NewHealthHandler(db DBPinger, redisClient *redis.Client, rails []string) *HealthHandler {
	return &HealthHandler{db: db, redis: redisClient, rails: rails}
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Rails     []string          `json:"rails"`
}

// Health обрабатывает GET /health.
func (h *HealthHandler) Health(c *gin.Context) {
	checks := make(map[string]string)
	status := "healthy"

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		checks["database"] = "unhealthy"
		status = "unhealthy"
	} else {
		checks["database"] = "healthy"
	}

	// Недоступный Redis понижает статус до degraded.
	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "degraded"
			if status == "healthy" {
				status = "degraded"
			}
		} else {
			checks["redis"] = "healthy"
		}
	}

	statusCode := http.StatusOK
	if status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Rails:     h.rails,
	})
}
