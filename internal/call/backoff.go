package call

import (
	"math"
	"math/rand"
	"time"

	"github.com/Nikita-bot/MedianLink/internal/config"
)

// BackoffConfig shapes reconnect delays.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

func BackoffConfigFrom(cfg config.Config) BackoffConfig {
	return BackoffConfig{
		InitialDelay: cfg.ReconnectInitialDelay,
		MaxDelay:     cfg.ReconnectMaxDelay,
		Multiplier:   cfg.ReconnectMultiplier,
		Jitter:       cfg.ReconnectJitter,
	}
}

// reconnectDelay returns the delay before consecutive reconnect attempt N
// (1-based). The first attempt after a failure is immediate.
func reconnectDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 || cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-2))
	if cfg.Jitter && rng != nil {
		delay *= 0.5 + rng.Float64()
	}
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}
