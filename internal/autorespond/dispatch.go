package autorespond

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/parrothq/parrot/internal/rules"
)

// gifHosts are hosts whose links are treated as GIF-like regardless of
// file extension.
var gifHosts = []string{
	"tenor.com",
	"giphy.com",
}

// Dispatcher orchestrates matching, media resolution, cooldowns, and the
// degrade-send ladder for incoming messages. All state it mutates lives in
// the injected cache and guards, keyed by full guild/channel/rule tuples,
// so concurrent guilds cannot interfere.
type Dispatcher struct {
	logger        *slog.Logger
	rules         RuleSource
	fetcher       *Fetcher
	cache         *Cache
	store         *Store
	mediaCooldown *CooldownGuard
	errorCooldown *CooldownGuard
}

func NewDispatcher(log *slog.Logger, source RuleSource, fetcher *Fetcher, cache *Cache, store *Store, cfg Config) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Dispatcher{
		logger:        log.With(slog.String("component", "autorespond")),
		rules:         source,
		fetcher:       fetcher,
		cache:         cache,
		store:         store,
		mediaCooldown: NewCooldownGuard(cfg.MediaCooldown, 0),
		errorCooldown: NewCooldownGuard(cfg.ErrorCooldown, 1000),
	}
}

// HandleMessage evaluates one message against its guild's rules and sends
// any responses. Rules are processed sequentially so cooldown state for a
// channel updates in rule order. Nothing here panics out into the message
// handler: every failure degrades to "no response for this rule".
func (d *Dispatcher) HandleMessage(ctx context.Context, msg Message, sender Sender) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("message handling panicked",
				slog.String("guild_id", msg.GuildID),
				slog.String("channel_id", msg.ChannelID),
				slog.Any("panic", r))
		}
	}()

	if msg.GuildID == "" || msg.Content == "" {
		return
	}

	cfg, err := d.rules.GetGuildConfig(ctx, msg.GuildID)
	if err != nil {
		d.logger.Warn("load guild config failed",
			slog.String("guild_id", msg.GuildID), slog.Any("error", err))
		return
	}
	if !cfg.Enabled {
		return
	}

	for _, rule := range MatchRules(cfg.Rules, msg) {
		d.respond(ctx, msg, rule, sender)
	}
}

func (d *Dispatcher) respond(ctx context.Context, msg Message, rule rules.Rule, sender Sender) {
	payload := Payload{
		Content:   truncateContent(rule.ReplyText),
		StickerID: rule.StickerID,
	}

	if rule.MediaURL != "" {
		if IsGIFLike(rule.MediaURL) &&
			!d.mediaCooldown.Allow(MediaCooldownKey(msg.GuildID, msg.ChannelID, rule.ID)) {
			// Cooldown skips the whole rule, not just the media.
			return
		}
		file, ok := d.resolveMedia(ctx, msg, rule)
		if !ok && payload.Content == "" && payload.StickerID == "" {
			// Media-only rule with nothing to fall back to.
			return
		}
		payload.File = file
	}

	if payload.Empty() {
		return
	}
	d.sendWithDegrade(ctx, msg, rule, payload, sender)
}

// resolveMedia serves the rule's media from cache/disk, falling back to a
// fresh fetch that is persisted for next time. ok=false means the reply
// continues without media.
func (d *Dispatcher) resolveMedia(ctx context.Context, msg Message, rule rules.Rule) (*File, bool) {
	if rule.MediaStoredPath != "" {
		if data, ok := d.cache.Get(rule.MediaStoredPath); ok {
			name := rule.MediaStoredName
			if name == "" {
				name = baseName(rule.MediaStoredPath)
			}
			return &File{Name: name, Data: data}, true
		}
		// Stored file vanished from disk; clear the stale pointer and
		// fall through to a re-fetch.
		if err := d.rules.ClearStoredMedia(ctx, msg.GuildID, rule.ID); err != nil {
			d.logger.Warn("clear stale stored media failed",
				slog.String("guild_id", msg.GuildID), slog.Int("rule_id", rule.ID),
				slog.Any("error", err))
		}
	}

	result, ok := d.fetcher.Fetch(ctx, rule.MediaURL)
	if !ok {
		d.recordMediaFailure(msg.GuildID, msg.ChannelID, rule, "fetch_failed")
		return nil, false
	}

	rel, err := d.store.Save(msg.GuildID, rule.ID, result.Data, result.Filename)
	if err != nil {
		// Storage trouble must not cost the user the reply; send the
		// fetched bytes anyway.
		d.recordMediaFailure(msg.GuildID, msg.ChannelID, rule, "store_failed")
		return &File{Name: result.Filename, Data: result.Data}, true
	}
	d.cache.Put(rel, result.Data)
	if err := d.rules.SetStoredMedia(ctx, msg.GuildID, rule.ID, rel, result.Filename); err != nil {
		d.logger.Warn("persist stored media path failed",
			slog.String("guild_id", msg.GuildID), slog.Int("rule_id", rule.ID),
			slog.Any("error", err))
	}
	return &File{Name: result.Filename, Data: result.Data}, true
}

// sendWithDegrade walks the degrade ladder: full payload, then without the
// sticker when media is present, then text alone when only a sticker
// failed. Media is never dropped silently.
func (d *Dispatcher) sendWithDegrade(ctx context.Context, msg Message, rule rules.Rule, payload Payload, sender Sender) {
	err := sender.Send(ctx, msg.ChannelID, payload)
	if err == nil {
		return
	}

	if payload.File != nil {
		if payload.StickerID != "" {
			retry := payload
			retry.StickerID = ""
			if retryErr := sender.Send(ctx, msg.ChannelID, retry); retryErr == nil {
				d.logger.Info("sent without sticker",
					slog.String("guild_id", msg.GuildID),
					slog.Int("rule_id", rule.ID),
					slog.Any("error", err))
				return
			}
		}
		d.logger.Error("send failed",
			slog.String("guild_id", msg.GuildID),
			slog.String("channel_id", msg.ChannelID),
			slog.Int("rule_id", rule.ID),
			slog.Any("error", err))
		return
	}

	if payload.StickerID != "" && payload.Content != "" {
		retry := payload
		retry.StickerID = ""
		if retryErr := sender.Send(ctx, msg.ChannelID, retry); retryErr == nil {
			d.logger.Info("sent text without sticker",
				slog.String("guild_id", msg.GuildID),
				slog.Int("rule_id", rule.ID),
				slog.Any("error", err))
			return
		}
	}
	d.logger.Error("send failed",
		slog.String("guild_id", msg.GuildID),
		slog.String("channel_id", msg.ChannelID),
		slog.Int("rule_id", rule.ID),
		slog.Any("error", err))
}

// RefreshRuleMedia eagerly fetches and stores a rule's media, used after a
// rule edit. On fetch failure the stored-media fields stay cleared so the
// next trigger retries lazily.
func (d *Dispatcher) RefreshRuleMedia(ctx context.Context, guildID string, ruleID int) {
	rule, err := d.rules.GetRule(ctx, guildID, ruleID)
	if err != nil || rule.MediaURL == "" {
		return
	}

	result, ok := d.fetcher.Fetch(ctx, rule.MediaURL)
	if !ok {
		d.recordMediaFailure(guildID, rule.ChannelID, rule, "prefetch_failed")
		if err := d.rules.ClearStoredMedia(ctx, guildID, ruleID); err != nil {
			d.logger.Warn("clear stored media failed",
				slog.String("guild_id", guildID), slog.Int("rule_id", ruleID),
				slog.Any("error", err))
		}
		return
	}
	rel, err := d.store.Save(guildID, ruleID, result.Data, result.Filename)
	if err != nil {
		d.recordMediaFailure(guildID, rule.ChannelID, rule, "store_failed")
		return
	}
	d.cache.Put(rel, result.Data)
	if err := d.rules.SetStoredMedia(ctx, guildID, ruleID, rel, result.Filename); err != nil {
		d.logger.Warn("persist stored media path failed",
			slog.String("guild_id", guildID), slog.Int("rule_id", ruleID),
			slog.Any("error", err))
	}
}

// PurgeStored removes a stored media file and its cache entry, best-effort.
func (d *Dispatcher) PurgeStored(rel string) {
	if rel == "" {
		return
	}
	d.cache.Invalidate(rel)
	d.store.Delete(rel)
}

// MediaFailuresSuppressed exposes the count of failures that were recorded
// but not logged due to the error window.
func (d *Dispatcher) MediaFailuresSuppressed() uint64 {
	return d.errorCooldown.Suppressed()
}

// recordMediaFailure logs at most once per error window for the same
// guild/channel/rule/reason/url tuple; repeats are counted silently.
func (d *Dispatcher) recordMediaFailure(guildID, channelID string, rule rules.Rule, reason string) {
	key := ErrorCooldownKey(guildID, channelID, rule.ID, reason, rule.MediaURL)
	if !d.errorCooldown.Allow(key) {
		return
	}
	d.logger.Warn("media resolution failed",
		slog.String("guild_id", guildID),
		slog.String("channel_id", channelID),
		slog.Int("rule_id", rule.ID),
		slog.String("reason", reason),
		slog.String("url", truncateForLog(rule.MediaURL)))
}

// IsGIFLike reports whether a media URL should be throttled by the media
// cooldown: a .gif file or a link on a known GIF-hosting domain.
func IsGIFLike(mediaURL string) bool {
	if urlExtension(mediaURL) == ".gif" {
		return true
	}
	host := urlHost(mediaURL)
	for _, gifHost := range gifHosts {
		if host == gifHost || strings.HasSuffix(host, "."+gifHost) {
			return true
		}
	}
	return false
}

func truncateContent(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= rules.MaxReplyTextLength {
		return text
	}
	cut := rules.MaxReplyTextLength
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func baseName(rel string) string {
	if i := strings.LastIndex(rel, "/"); i >= 0 {
		return rel[i+1:]
	}
	return rel
}
