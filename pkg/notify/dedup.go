package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dedupWindow   = 30 * time.Second
	dedupKeyLimit = 100
	redisKeyPrefix = "tripdesk:errdedup:"
)

// ErrorDedup suppresses repeated admin error reports within a 30-second
// window, keyed by a fingerprint of (error type, truncated message, top
// stack frame). When Redis is configured the suppression window is
// shared across worker processes; otherwise it falls back to a bounded
// in-memory cache local to this process, grounded on the same
// fingerprint-with-TTL idiom.
type ErrorDedup struct {
	rdb    *redis.Client
	logger *slog.Logger

	mu    sync.Mutex
	local map[string]time.Time
	order []string
}

// NewErrorDedup builds an ErrorDedup. rdb may be nil, in which case the
// in-memory fallback is used exclusively.
func NewErrorDedup(rdb *redis.Client, logger *slog.Logger) *ErrorDedup {
	return &ErrorDedup{
		rdb:    rdb,
		logger: logger,
		local:  make(map[string]time.Time),
	}
}

// Fingerprint hashes (errorType, message truncated to 100 chars, topFrame)
// into a stable key.
func Fingerprint(errorType, message, topFrame string) string {
	if len(message) > 100 {
		message = message[:100]
	}
	sum := sha256.Sum256([]byte(errorType + "\x00" + message + "\x00" + topFrame))
	return hex.EncodeToString(sum[:])
}

// ShouldReport returns true the first time a fingerprint is seen within
// the dedup window, and false for any repeat within that window.
func (d *ErrorDedup) ShouldReport(ctx context.Context, fingerprint string) bool {
	if d.rdb != nil {
		key := redisKeyPrefix + fingerprint
		ok, err := d.rdb.SetNX(ctx, key, "1", dedupWindow).Result()
		if err != nil {
			d.logger.Warn("error dedup redis check failed, falling back to in-memory", "error", err)
			return d.shouldReportLocal(fingerprint)
		}
		return ok
	}
	return d.shouldReportLocal(fingerprint)
}

func (d *ErrorDedup) shouldReportLocal(fingerprint string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if seenAt, ok := d.local[fingerprint]; ok && now.Sub(seenAt) < dedupWindow {
		return false
	}

	d.local[fingerprint] = now
	d.order = append(d.order, fingerprint)
	if len(d.order) > dedupKeyLimit {
		evict := d.order[0]
		d.order = d.order[1:]
		delete(d.local, evict)
	}
	return true
}

// ReportError is the globally installed error handler: it never panics
// and never returns an error, so a bug in reporting cannot crash the
// chat transport's update loop. n may be nil-safe by construction since
// every call site holds a real Notifier.
func (n *Notifier) ReportError(ctx context.Context, errorType, message, topFrame string, admins []int64) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("panic while reporting admin error", "recovered", r)
		}
	}()

	fp := Fingerprint(errorType, message, topFrame)
	if !n.dedup.ShouldReport(ctx, fp) {
		return
	}

	body := fmt.Sprintf("⚠️ %s\n%s", errorType, message)
	for _, admin := range admins {
		if _, err := n.Send(ctx, admin, body, nil); err != nil {
			n.logger.Warn("failed to deliver admin error report", "admin", admin, "error", err)
		}
	}
}
