package autorespond

import (
	"fmt"
	"sync"
	"time"
)

// CooldownGuard is a check-and-set suppression window: Allow returns true
// at most once per window for a given key, recording the allowed time
// immediately so a second call milliseconds later is blocked
// deterministically. With pruneThreshold > 0 the tracked keys are swept
// once the map grows past the threshold.
type CooldownGuard struct {
	mu             sync.Mutex
	window         time.Duration
	lastAllowed    map[string]time.Time
	pruneThreshold int
	suppressed     uint64
	now            func() time.Time
}

func NewCooldownGuard(window time.Duration, pruneThreshold int) *CooldownGuard {
	return &CooldownGuard{
		window:         window,
		lastAllowed:    make(map[string]time.Time),
		pruneThreshold: pruneThreshold,
		now:            time.Now,
	}
}

// Allow reports whether the action for key is outside its window, and if
// so records now under that key.
func (g *CooldownGuard) Allow(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if last, ok := g.lastAllowed[key]; ok && now.Sub(last) < g.window {
		g.suppressed++
		return false
	}
	g.lastAllowed[key] = now

	if g.pruneThreshold > 0 && len(g.lastAllowed) > g.pruneThreshold {
		for k, last := range g.lastAllowed {
			if now.Sub(last) >= g.window {
				delete(g.lastAllowed, k)
			}
		}
	}
	return true
}

// Suppressed returns how many calls were denied since start. Gives
// operators visibility into failures that were counted but not logged.
func (g *CooldownGuard) Suppressed() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.suppressed
}

// Tracked reports the number of live keys.
func (g *CooldownGuard) Tracked() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.lastAllowed)
}

// MediaCooldownKey scopes the media reply window. Keys carry the full
// tuple so concurrent guilds can never interfere.
func MediaCooldownKey(guildID, channelID string, ruleID int) string {
	return fmt.Sprintf("%s:%s:%d", guildID, channelID, ruleID)
}

// ErrorCooldownKey scopes error-log suppression down to the failure reason
// and (truncated) URL, so distinct failures still log.
func ErrorCooldownKey(guildID, channelID string, ruleID int, reason, mediaURL string) string {
	return fmt.Sprintf("%s:%s:%d:%s:%s", guildID, channelID, ruleID, reason, truncateForLog(mediaURL))
}
