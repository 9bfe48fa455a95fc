package rules

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MatchMode selects how a rule trigger is compared against message content.
type MatchMode string

const (
	MatchContains   MatchMode = "contains"
	MatchEquals     MatchMode = "equals"
	MatchStartsWith MatchMode = "starts_with"
	MatchRegex      MatchMode = "regex"
)

const (
	MaxTriggerLength   = 256
	MaxReplyTextLength = 2000
)

// Rule is a guild-scoped trigger-to-response mapping.
type Rule struct {
	ID            int       `json:"id"`
	GuildID       string    `json:"guild_id"`
	Trigger       string    `json:"trigger"`
	MatchMode     MatchMode `json:"match_mode"`
	CaseSensitive bool      `json:"case_sensitive"`
	// ChannelID restricts the rule to one channel when set.
	ChannelID string `json:"channel_id,omitempty"`
	ReplyText string `json:"reply_text,omitempty"`
	MediaURL  string `json:"media_url,omitempty"`
	StickerID string `json:"sticker_id,omitempty"`
	// MediaStoredPath and MediaStoredName are set once the media behind
	// MediaURL has been persisted to durable storage. Both are cleared
	// whenever MediaURL changes.
	MediaStoredPath string    `json:"media_stored_path,omitempty"`
	MediaStoredName string    `json:"media_stored_name,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Actionable reports whether the rule has anything to respond with.
func (r Rule) Actionable() bool {
	return strings.TrimSpace(r.ReplyText) != "" ||
		strings.TrimSpace(r.MediaURL) != "" ||
		strings.TrimSpace(r.StickerID) != ""
}

// GuildConfig is one guild's auto-respond configuration.
type GuildConfig struct {
	GuildID string `json:"guild_id"`
	Enabled bool   `json:"enabled"`
	Rules   []Rule `json:"rules"`
}

// RuleRequest carries the writable fields of a rule for create and update.
type RuleRequest struct {
	Trigger       string `json:"trigger" validate:"required,max=256"`
	MatchMode     string `json:"match_mode" validate:"omitempty,oneof=contains equals starts_with regex"`
	CaseSensitive bool   `json:"case_sensitive"`
	ChannelID     string `json:"channel_id" validate:"omitempty,max=32"`
	ReplyText     string `json:"reply_text" validate:"max=2000"`
	MediaURL      string `json:"media_url" validate:"omitempty,url,max=1024"`
	StickerID     string `json:"sticker_id" validate:"omitempty,max=32"`
}

// NormalizeMatchMode maps free-form input to a known mode, defaulting to
// contains.
func NormalizeMatchMode(mode string) MatchMode {
	switch MatchMode(strings.ToLower(strings.TrimSpace(mode))) {
	case MatchEquals:
		return MatchEquals
	case MatchStartsWith:
		return MatchStartsWith
	case MatchRegex:
		return MatchRegex
	default:
		return MatchContains
	}
}

// Normalize trims and caps request fields per the rule invariants.
func (req RuleRequest) Normalize() RuleRequest {
	req.Trigger = truncate(strings.TrimSpace(req.Trigger), MaxTriggerLength)
	req.MatchMode = string(NormalizeMatchMode(req.MatchMode))
	req.ChannelID = strings.TrimSpace(req.ChannelID)
	req.ReplyText = truncate(strings.TrimSpace(req.ReplyText), MaxReplyTextLength)
	req.MediaURL = strings.TrimSpace(req.MediaURL)
	req.StickerID = strings.TrimSpace(req.StickerID)
	return req
}

// truncate caps s at max bytes without cutting a rune in half.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
