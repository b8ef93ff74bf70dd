package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// TierLimits defines rate limits for each subscription plan
type TierLimits struct {
	RequestsPerMinute int
	Burst             int
}

// TierRateLimiter implements plan-based rate limiting. Quota gating caps
// how many generations a free user gets; this caps how fast anyone can
// hit the API at all.
type TierRateLimiter struct {
	// Limiters for authenticated users (by user ID)
	userLimiters map[string]*rate.Limiter
	// Limiters for unauthenticated users (by IP)
	ipLimiters map[string]*rate.Limiter
	mu         sync.RWMutex

	tierLimits map[string]TierLimits

	// Default limits for unauthenticated requests
	defaultLimits TierLimits
}

// NewTierRateLimiter creates a new plan-based rate limiter
func NewTierRateLimiter() *TierRateLimiter {
	trl := &TierRateLimiter{
		userLimiters: make(map[string]*rate.Limiter),
		ipLimiters:   make(map[string]*rate.Limiter),
		tierLimits: map[string]TierLimits{
			"free": {
				RequestsPerMinute: 60,
				Burst:             10,
			},
			"premium": {
				RequestsPerMinute: 300,
				Burst:             50,
			},
		},
		defaultLimits: TierLimits{
			RequestsPerMinute: 30,
			Burst:             5,
		},
	}

	// Cleanup goroutine
	go trl.cleanupLimiters()

	return trl
}

// getUserLimiter returns or creates a rate limiter for a user based on their plan
func (trl *TierRateLimiter) getUserLimiter(userID, plan string) *rate.Limiter {
	trl.mu.Lock()
	defer trl.mu.Unlock()

	if limiter, exists := trl.userLimiters[userID]; exists {
		return limiter
	}

	limits, exists := trl.tierLimits[plan]
	if !exists {
		limits = trl.tierLimits["free"]
	}

	rps := float64(limits.RequestsPerMinute) / 60.0
	limiter := rate.NewLimiter(rate.Limit(rps), limits.Burst)
	trl.userLimiters[userID] = limiter

	return limiter
}

// getIPLimiter returns or creates a rate limiter for an IP address
func (trl *TierRateLimiter) getIPLimiter(ip string) *rate.Limiter {
	trl.mu.Lock()
	defer trl.mu.Unlock()

	if limiter, exists := trl.ipLimiters[ip]; exists {
		return limiter
	}

	rps := float64(trl.defaultLimits.RequestsPerMinute) / 60.0
	limiter := rate.NewLimiter(rate.Limit(rps), trl.defaultLimits.Burst)
	trl.ipLimiters[ip] = limiter

	return limiter
}

// cleanupLimiters removes inactive limiters every 5 minutes
func (trl *TierRateLimiter) cleanupLimiters() {
	for {
		time.Sleep(5 * time.Minute)

		trl.mu.Lock()

		for userID, limiter := range trl.userLimiters {
			if limiter.Tokens() >= float64(limiter.Burst()) {
				delete(trl.userLimiters, userID)
			}
		}

		for ip, limiter := range trl.ipLimiters {
			if limiter.Tokens() >= float64(limiter.Burst()) {
				delete(trl.ipLimiters, ip)
			}
		}

		trl.mu.Unlock()
	}
}

// Middleware creates an Echo middleware for plan-based rate limiting
func (trl *TierRateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var limiter *rate.Limiter

			userID, hasUserID := c.Get("user_id").(string)
			plan, hasPlan := c.Get("user_plan").(string)

			if hasUserID && hasPlan {
				limiter = trl.getUserLimiter(userID, plan)
			} else {
				ip := c.RealIP()
				if ip == "" {
					ip = c.Request().RemoteAddr
				}
				limiter = trl.getIPLimiter(ip)
			}

			if !limiter.Allow() {
				planInfo := "unauthenticated"
				if hasPlan {
					planInfo = plan
				}

				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"success": false,
					"message": "Rate limit exceeded for " + planInfo + " plan. Please try again later.",
					"plan":    planInfo,
				})
			}

			return next(c)
		}
	}
}

// GetTierLimits returns the rate limits for a specific plan
func (trl *TierRateLimiter) GetTierLimits(plan string) (TierLimits, bool) {
	trl.mu.RLock()
	defer trl.mu.RUnlock()

	limits, exists := trl.tierLimits[plan]
	return limits, exists
}
