package autorespond

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/parrothq/parrot/internal/rules"
)

type fakeRuleSource struct {
	mu     sync.Mutex
	config rules.GuildConfig
}

func newFakeRuleSource(guildRules ...rules.Rule) *fakeRuleSource {
	return &fakeRuleSource{config: rules.GuildConfig{GuildID: "g1", Enabled: true, Rules: guildRules}}
}

func (s *fakeRuleSource) GetGuildConfig(ctx context.Context, guildID string) (rules.GuildConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config, nil
}

func (s *fakeRuleSource) GetRule(ctx context.Context, guildID string, ruleID int) (rules.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.config.Rules {
		if r.ID == ruleID {
			return r, nil
		}
	}
	return rules.Rule{}, rules.ErrRuleNotFound
}

func (s *fakeRuleSource) SetStoredMedia(ctx context.Context, guildID string, ruleID int, relPath, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.config.Rules {
		if s.config.Rules[i].ID == ruleID {
			s.config.Rules[i].MediaStoredPath = relPath
			s.config.Rules[i].MediaStoredName = name
		}
	}
	return nil
}

func (s *fakeRuleSource) ClearStoredMedia(ctx context.Context, guildID string, ruleID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.config.Rules {
		if s.config.Rules[i].ID == ruleID {
			s.config.Rules[i].MediaStoredPath = ""
			s.config.Rules[i].MediaStoredName = ""
		}
	}
	return nil
}

type fakeSender struct {
	mu       sync.Mutex
	payloads []Payload
	fail     func(Payload) error
}

func (s *fakeSender) Send(ctx context.Context, channelID string, payload Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		if err := s.fail(payload); err != nil {
			return err
		}
	}
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *fakeSender) sent() []Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Payload(nil), s.payloads...)
}

func newTestDispatcher(t *testing.T, source RuleSource) (*Dispatcher, *Store) {
	t.Helper()
	log := slog.Default()
	store := NewStore(log, t.TempDir())
	cfg := Config{}
	cache := NewCache(log, store, cfg)
	fetcher := NewFetcher(log, cfg)
	return NewDispatcher(log, source, fetcher, cache, store, cfg), store
}

func mediaServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(bytes.Repeat([]byte("png"), 64))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDispatcherSendsTextReply(t *testing.T) {
	t.Parallel()

	source := newFakeRuleSource(rules.Rule{
		ID: 1, GuildID: "g1", Trigger: "gm", MatchMode: rules.MatchContains, ReplyText: "good morning",
	})
	d, _ := newTestDispatcher(t, source)
	sender := &fakeSender{}

	d.HandleMessage(context.Background(), Message{GuildID: "g1", ChannelID: "c1", Content: "gm everyone"}, sender)

	sent := sender.sent()
	require.Len(t, sent, 1)
	require.Equal(t, "good morning", sent[0].Content)
	require.Nil(t, sent[0].File)
}

func TestDispatcherDisabledGuildStaysSilent(t *testing.T) {
	t.Parallel()

	source := newFakeRuleSource(rules.Rule{
		ID: 1, GuildID: "g1", Trigger: "gm", MatchMode: rules.MatchContains, ReplyText: "hi",
	})
	source.config.Enabled = false
	d, _ := newTestDispatcher(t, source)
	sender := &fakeSender{}

	d.HandleMessage(context.Background(), Message{GuildID: "g1", ChannelID: "c1", Content: "gm"}, sender)
	require.Empty(t, sender.sent())
}

func TestDispatcherMediaFetchedOnceThenCached(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := mediaServer(t, &hits)

	source := newFakeRuleSource(rules.Rule{
		ID: 1, GuildID: "g1", Trigger: "cat", MatchMode: rules.MatchContains,
		MediaURL: srv.URL + "/cat.png",
	})
	d, _ := newTestDispatcher(t, source)
	sender := &fakeSender{}

	msg := Message{GuildID: "g1", ChannelID: "c1", Content: "cat pls"}
	d.HandleMessage(context.Background(), msg, sender)
	d.HandleMessage(context.Background(), msg, sender)

	sent := sender.sent()
	require.Len(t, sent, 2)
	require.NotNil(t, sent[0].File)
	require.NotNil(t, sent[1].File)
	require.Equal(t, int32(1), hits.Load(), "second trigger must be served from cache, not re-fetched")

	// Stored path was persisted back to the rule store.
	rule, err := source.GetRule(context.Background(), "g1", 1)
	require.NoError(t, err)
	require.NotEmpty(t, rule.MediaStoredPath)
	require.Equal(t, "cat.png", rule.MediaStoredName)
}

func TestDispatcherGIFCooldownSkipsRule(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/gif")
		_, _ = w.Write(bytes.Repeat([]byte("gif"), 64))
	}))
	t.Cleanup(srv.Close)

	source := newFakeRuleSource(rules.Rule{
		ID: 1, GuildID: "g1", Trigger: "gm", MatchMode: rules.MatchContains,
		MediaURL: srv.URL + "/a.gif",
	})
	d, _ := newTestDispatcher(t, source)
	sender := &fakeSender{}

	msg := Message{GuildID: "g1", ChannelID: "c1", Content: "gm everyone"}
	d.HandleMessage(context.Background(), msg, sender)
	d.HandleMessage(context.Background(), msg, sender)

	require.Len(t, sender.sent(), 1, "second trigger inside the cooldown window must be skipped")

	// The same rule in another channel has its own window.
	d.HandleMessage(context.Background(), Message{GuildID: "g1", ChannelID: "c2", Content: "gm"}, sender)
	require.Len(t, sender.sent(), 2)
}

func TestDispatcherFetchFailureDegradesToText(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	source := newFakeRuleSource(rules.Rule{
		ID: 1, GuildID: "g1", Trigger: "gm", MatchMode: rules.MatchContains,
		ReplyText: "hello", MediaURL: srv.URL + "/gone.png",
	})
	d, _ := newTestDispatcher(t, source)
	sender := &fakeSender{}

	msg := Message{GuildID: "g1", ChannelID: "c1", Content: "gm"}
	d.HandleMessage(context.Background(), msg, sender)

	sent := sender.sent()
	require.Len(t, sent, 1)
	require.Equal(t, "hello", sent[0].Content)
	require.Nil(t, sent[0].File, "reply continues without media on fetch failure")
}

func TestDispatcherMediaOnlyFailureRecordedNotRepeated(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("tiny")) // below the sanity floor
	}))
	t.Cleanup(srv.Close)

	source := newFakeRuleSource(rules.Rule{
		ID: 1, GuildID: "g1", Trigger: "big", MatchMode: rules.MatchContains,
		MediaURL: srv.URL + "/big.png",
	})
	d, _ := newTestDispatcher(t, source)
	sender := &fakeSender{}

	msg := Message{GuildID: "g1", ChannelID: "c1", Content: "big"}
	d.HandleMessage(context.Background(), msg, sender)
	d.HandleMessage(context.Background(), msg, sender)

	require.Empty(t, sender.sent(), "media-only rule with failed fetch sends nothing")
	require.Equal(t, uint64(1), d.MediaFailuresSuppressed(),
		"repeat failure inside the window is counted, not re-logged")
}

func TestDispatcherStickerDegradeLadder(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := mediaServer(t, &hits)

	source := newFakeRuleSource(rules.Rule{
		ID: 1, GuildID: "g1", Trigger: "gm", MatchMode: rules.MatchContains,
		ReplyText: "hi", MediaURL: srv.URL + "/pic.png", StickerID: "stale-sticker",
	})
	d, _ := newTestDispatcher(t, source)
	sender := &fakeSender{
		fail: func(p Payload) error {
			if p.StickerID != "" {
				return fmt.Errorf("%w: sticker rejected", ErrInvalidSticker)
			}
			return nil
		},
	}

	d.HandleMessage(context.Background(), Message{GuildID: "g1", ChannelID: "c1", Content: "gm"}, sender)

	sent := sender.sent()
	require.Len(t, sent, 1)
	require.Empty(t, sent[0].StickerID, "ladder drops the sticker")
	require.Equal(t, "hi", sent[0].Content)
	require.NotNil(t, sent[0].File, "media survives the degrade step")
}

func TestDispatcherTextStickerLadderDropsSticker(t *testing.T) {
	t.Parallel()

	source := newFakeRuleSource(rules.Rule{
		ID: 1, GuildID: "g1", Trigger: "gm", MatchMode: rules.MatchContains,
		ReplyText: "hi", StickerID: "stale-sticker",
	})
	d, _ := newTestDispatcher(t, source)
	sender := &fakeSender{
		fail: func(p Payload) error {
			if p.StickerID != "" {
				return fmt.Errorf("%w: sticker rejected", ErrInvalidSticker)
			}
			return nil
		},
	}

	d.HandleMessage(context.Background(), Message{GuildID: "g1", ChannelID: "c1", Content: "gm"}, sender)

	sent := sender.sent()
	require.Len(t, sent, 1)
	require.Empty(t, sent[0].StickerID)
	require.Equal(t, "hi", sent[0].Content)
}

func TestDispatcherSurvivesPanickingSender(t *testing.T) {
	t.Parallel()

	source := newFakeRuleSource(rules.Rule{
		ID: 1, GuildID: "g1", Trigger: "gm", MatchMode: rules.MatchContains, ReplyText: "hi",
	})
	d, _ := newTestDispatcher(t, source)

	require.NotPanics(t, func() {
		d.HandleMessage(context.Background(),
			Message{GuildID: "g1", ChannelID: "c1", Content: "gm"}, panickingSender{})
	})
}

type panickingSender struct{}

func (panickingSender) Send(ctx context.Context, channelID string, payload Payload) error {
	panic("boom")
}

func TestTruncateContentMultibyte(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("€", 1200) // 3600 bytes of 3-byte runes
	got := truncateContent(long)
	require.True(t, utf8.ValidString(got), "cap must not sever a rune")
	require.LessOrEqual(t, len(got), rules.MaxReplyTextLength)

	short := "hello €"
	require.Equal(t, short, truncateContent(short))
}

func TestIsGIFLike(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		want bool
	}{
		{"https://cdn.discordapp.com/attachments/1/2/cat.gif?ex=1", true},
		{"https://tenor.com/view/funny-12345", true},
		{"https://media.tenor.com/abc/clip.mp4", true},
		{"https://media.giphy.com/media/xyz/giphy.mp4", true},
		{"https://cdn.discordapp.com/attachments/1/2/cat.png", false},
		{"https://example.com/video.mp4", false},
		{"https://notgiphy.example.com/a.png", false},
	}
	for _, tt := range tests {
		if got := IsGIFLike(tt.url); got != tt.want {
			t.Fatalf("IsGIFLike(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
