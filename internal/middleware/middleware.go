package middleware

import (
	"context"
	"time"

	"github.com/oscmail/automailer/internal/config"
	"github.com/oscmail/automailer/internal/logger"
)

// Counter is the fixed window store behind RateLimit.
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Middleware holds all HTTP middleware
type Middleware struct {
	rdb Counter
	log *logger.Logger
	cfg *config.Config
}

// New creates a new Middleware instance
func New(rdb Counter, log *logger.Logger, cfg *config.Config) *Middleware {
	return &Middleware{
		rdb: rdb,
		log: log,
		cfg: cfg,
	}
}
