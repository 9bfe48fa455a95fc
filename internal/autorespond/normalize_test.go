package autorespond

import "testing"

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		input      string
		want       string
		wantChange bool
	}{
		{
			name:       "strips expiring signature params",
			input:      "https://cdn.discordapp.com/attachments/1/2/cat.gif?ex=123&is=456&hm=abc",
			want:       "https://cdn.discordapp.com/attachments/1/2/cat.gif",
			wantChange: true,
		},
		{
			name:       "rewrites mirror host",
			input:      "https://media.discordapp.net/attachments/1/2/cat.png?ex=123",
			want:       "https://cdn.discordapp.com/attachments/1/2/cat.png",
			wantChange: true,
		},
		{
			name:       "preserves non-expiring params",
			input:      "https://cdn.discordapp.com/attachments/1/2/cat.png?ex=123&width=300",
			want:       "https://cdn.discordapp.com/attachments/1/2/cat.png?width=300",
			wantChange: true,
		},
		{
			name:       "non-cdn url unchanged",
			input:      "https://example.com/a.gif?ex=123",
			want:       "https://example.com/a.gif?ex=123",
			wantChange: false,
		},
		{
			name:       "cdn non-attachment path unchanged",
			input:      "https://cdn.discordapp.com/avatars/1/abc.png?ex=123",
			want:       "https://cdn.discordapp.com/avatars/1/abc.png?ex=123",
			wantChange: false,
		},
		{
			name:       "malformed url passes through",
			input:      "http://[::1]:namedport",
			want:       "http://[::1]:namedport",
			wantChange: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, changed := NormalizeURL(tt.input)
			if got != tt.want {
				t.Fatalf("NormalizeURL(%q) = %q, want %q", tt.input, got, tt.want)
			}
			if changed != tt.wantChange {
				t.Fatalf("NormalizeURL(%q) changed = %v, want %v", tt.input, changed, tt.wantChange)
			}
		})
	}
}

func TestNormalizeURLIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"https://cdn.discordapp.com/attachments/1/2/cat.gif?ex=123&is=456&hm=abc",
		"https://media.discordapp.net/attachments/1/2/cat.png?hm=ff&width=300",
		"https://example.com/a.gif?ex=123",
		"not a url at all",
	}
	for _, input := range inputs {
		once, _ := NormalizeURL(input)
		twice, _ := NormalizeURL(once)
		if once != twice {
			t.Fatalf("normalize not idempotent for %q: %q then %q", input, once, twice)
		}
	}
}

func TestNormalizeURLDedupsRotatedSignatures(t *testing.T) {
	t.Parallel()

	a, _ := NormalizeURL("https://cdn.discordapp.com/attachments/9/8/dog.webp?ex=aaa&is=bbb&hm=ccc")
	b, _ := NormalizeURL("https://cdn.discordapp.com/attachments/9/8/dog.webp?ex=zzz&is=yyy&hm=xxx")
	if a != b {
		t.Fatalf("rotated signatures should normalize identically: %q vs %q", a, b)
	}
}
