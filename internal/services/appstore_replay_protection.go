package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"subscription-api/pkg/logging"
)

const notificationTTL = 24 * time.Hour

// ReplayGuard remembers processed notifications
type ReplayGuard interface {
	// IsReplay records the notification and reports whether it was seen before
	IsReplay(ctx context.Context, notificationUUID string, signedDate int64) (bool, error)
}

// notificationKey derives the identifier a notification is remembered by
func notificationKey(notificationUUID string, signedDate int64) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", notificationUUID, signedDate)))
	return hex.EncodeToString(hash[:])
}

// MemoryReplayGuard keeps processed notifications in process memory
type MemoryReplayGuard struct {
	processed map[string]time.Time
	mutex     sync.Mutex
	ttl       time.Duration
	now       func() time.Time
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewMemoryReplayGuard starts a guard that forgets notifications after 24 hours
func NewMemoryReplayGuard() *MemoryReplayGuard {
	g := &MemoryReplayGuard{
		processed: make(map[string]time.Time),
		ttl:       notificationTTL,
		now:       time.Now,
		stop:      make(chan struct{}),
	}
	go g.cleanupLoop(time.Hour)
	return g
}

func (g *MemoryReplayGuard) IsReplay(ctx context.Context, notificationUUID string, signedDate int64) (bool, error) {
	if notificationUUID == "" {
		logging.Infof("Notification UUID is empty, skipping replay check")
		return false, nil
	}

	key := notificationKey(notificationUUID, signedDate)

	g.mutex.Lock()
	defer g.mutex.Unlock()

	if processedAt, exists := g.processed[key]; exists && g.now().Sub(processedAt) <= g.ttl {
		logging.Infof("Replay detected - notification_uuid: %s, previously processed at: %v", notificationUUID, processedAt)
		return true, nil
	}
	g.processed[key] = g.now()
	return false, nil
}

func (g *MemoryReplayGuard) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.cleanup()
		case <-g.stop:
			return
		}
	}
}

// cleanup drops expired notification records
func (g *MemoryReplayGuard) cleanup() {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	now := g.now()
	initialCount := len(g.processed)
	for key, processedAt := range g.processed {
		if now.Sub(processedAt) > g.ttl {
			delete(g.processed, key)
		}
	}

	if cleaned := initialCount - len(g.processed); cleaned > 0 {
		logging.Infof("Replay protection cleanup: removed %d expired notifications, remaining: %d", cleaned, len(g.processed))
	}
}

// Len returns the number of remembered notifications
func (g *MemoryReplayGuard) Len() int {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return len(g.processed)
}

// Stop ends the cleanup goroutine
func (g *MemoryReplayGuard) Stop() {
	g.stopOnce.Do(func() { close(g.stop) })
}
