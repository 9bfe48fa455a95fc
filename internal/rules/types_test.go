package rules

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNormalizeMatchMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want MatchMode
	}{
		{"contains", MatchContains},
		{"equals", MatchEquals},
		{"starts_with", MatchStartsWith},
		{"regex", MatchRegex},
		{"  Equals  ", MatchEquals},
		{"REGEX", MatchRegex},
		{"", MatchContains},
		{"fuzzy", MatchContains},
	}
	for _, tt := range tests {
		if got := NormalizeMatchMode(tt.in); got != tt.want {
			t.Fatalf("NormalizeMatchMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRuleRequestNormalize(t *testing.T) {
	t.Parallel()

	req := RuleRequest{
		Trigger:   "  " + strings.Repeat("x", MaxTriggerLength+50) + "  ",
		MatchMode: " Starts_With ",
		ChannelID: " 123 ",
		ReplyText: strings.Repeat("y", MaxReplyTextLength+1),
		MediaURL:  " https://cdn.discordapp.com/attachments/1/2/a.png ",
		StickerID: " 456 ",
	}.Normalize()

	if len(req.Trigger) != MaxTriggerLength {
		t.Fatalf("trigger not capped: len=%d", len(req.Trigger))
	}
	if req.MatchMode != string(MatchStartsWith) {
		t.Fatalf("match mode = %q", req.MatchMode)
	}
	if req.ChannelID != "123" || req.StickerID != "456" {
		t.Fatalf("ids not trimmed: %q %q", req.ChannelID, req.StickerID)
	}
	if len(req.ReplyText) != MaxReplyTextLength {
		t.Fatalf("reply text not capped: len=%d", len(req.ReplyText))
	}
	if strings.HasPrefix(req.MediaURL, " ") || strings.HasSuffix(req.MediaURL, " ") {
		t.Fatalf("media url not trimmed: %q", req.MediaURL)
	}
}

func TestRuleRequestNormalizeMultibyte(t *testing.T) {
	t.Parallel()

	// Each euro sign is 3 bytes, so the caps land mid-rune unless the
	// truncation backs up to a rune boundary.
	req := RuleRequest{
		Trigger:   strings.Repeat("€", 100),
		ReplyText: strings.Repeat("€", 1200),
	}.Normalize()

	if !utf8.ValidString(req.Trigger) {
		t.Fatalf("trigger truncated to invalid UTF-8: %q", req.Trigger[len(req.Trigger)-4:])
	}
	if !utf8.ValidString(req.ReplyText) {
		t.Fatalf("reply text truncated to invalid UTF-8: %q", req.ReplyText[len(req.ReplyText)-4:])
	}
	if len(req.Trigger) > MaxTriggerLength {
		t.Fatalf("trigger over cap: len=%d", len(req.Trigger))
	}
	if len(req.ReplyText) > MaxReplyTextLength {
		t.Fatalf("reply text over cap: len=%d", len(req.ReplyText))
	}
	if got := len(req.ReplyText); got != MaxReplyTextLength-(MaxReplyTextLength%3) {
		t.Fatalf("reply text cut off a rune boundary: len=%d", got)
	}
}

func TestRuleActionable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rule Rule
		want bool
	}{
		{"text only", Rule{ReplyText: "hi"}, true},
		{"media only", Rule{MediaURL: "https://example.com/a.png"}, true},
		{"sticker only", Rule{StickerID: "123"}, true},
		{"nothing", Rule{Trigger: "gm"}, false},
		{"whitespace only", Rule{ReplyText: "   ", MediaURL: " ", StickerID: "\t"}, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.rule.Actionable(); got != tt.want {
				t.Fatalf("Actionable() = %v, want %v", got, tt.want)
			}
		})
	}
}
