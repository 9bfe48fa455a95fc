package autorespond

import (
	"context"
	"errors"
	"time"

	"github.com/parrothq/parrot/internal/rules"
)

// Message is the inbound chat message the pipeline evaluates.
type Message struct {
	GuildID   string
	ChannelID string
	MessageID string
	AuthorID  string
	Content   string
}

// File is a fetched or cached media blob ready to attach to a reply.
type File struct {
	Name string
	Data []byte
}

// Payload is the outbound reply. Any subset of the fields may be set; the
// degrade ladder strips fields on send failure.
type Payload struct {
	Content   string
	File      *File
	StickerID string
}

// Empty reports whether there is nothing left to send.
func (p Payload) Empty() bool {
	return p.Content == "" && p.File == nil && p.StickerID == ""
}

// Sender delivers a payload to a channel. Implementations should return
// ErrInvalidSticker (wrapped) when the platform rejects the sticker id so
// the dispatcher can log the degrade step accurately.
type Sender interface {
	Send(ctx context.Context, channelID string, payload Payload) error
}

// ErrInvalidSticker marks a send rejection caused by an unknown or deleted
// sticker id.
var ErrInvalidSticker = errors.New("invalid sticker id")

// RuleSource is the slice of the rule store the pipeline needs: pure reads
// plus write-back of the derived stored-media fields.
type RuleSource interface {
	GetGuildConfig(ctx context.Context, guildID string) (rules.GuildConfig, error)
	GetRule(ctx context.Context, guildID string, ruleID int) (rules.Rule, error)
	SetStoredMedia(ctx context.Context, guildID string, ruleID int, relPath, name string) error
	ClearStoredMedia(ctx context.Context, guildID string, ruleID int) error
}

// Config bounds the pipeline. Zero values fall back to the production
// defaults.
type Config struct {
	MaxFetchBytes int64
	FetchTimeout  time.Duration
	FetchRetries  int
	CacheTTL      time.Duration
	CacheCapacity int
	MediaCooldown time.Duration
	ErrorCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxFetchBytes <= 0 {
		c.MaxFetchBytes = 15 * 1024 * 1024
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 12 * time.Second
	}
	if c.FetchRetries <= 0 {
		c.FetchRetries = 2
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 10 * time.Minute
	}
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = 128
	}
	if c.MediaCooldown <= 0 {
		c.MediaCooldown = 7 * time.Second
	}
	if c.ErrorCooldown <= 0 {
		c.ErrorCooldown = 5 * time.Minute
	}
	return c
}
