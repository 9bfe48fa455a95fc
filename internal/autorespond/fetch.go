package autorespond

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"syscall"
	"time"
)

// MinMediaBytes guards against error pages masquerading as media.
const MinMediaBytes = 64

// mediaExtensions is the fallback whitelist consulted when a server omits
// or genericizes the Content-Type header.
var mediaExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".webp": {}, ".gif": {}, ".bmp": {}, ".svg": {},
	".mp4": {}, ".mov": {}, ".webm": {}, ".avi": {}, ".mkv": {},
}

var contentTypeExtensions = map[string]string{
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"image/bmp":       ".bmp",
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/quicktime": ".mov",
}

// FetchResult is a validated media download.
type FetchResult struct {
	Data        []byte
	Filename    string
	ContentType string
}

// Fetcher performs bounded, type-checked retrieval of media URLs.
type Fetcher struct {
	client    *http.Client
	logger    *slog.Logger
	maxBytes  int64
	retries   int
	baseDelay time.Duration
	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewFetcher(log *slog.Logger, cfg Config) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.FetchTimeout,
		},
		logger:    log.With(slog.String("component", "media_fetcher")),
		maxBytes:  cfg.MaxFetchBytes,
		retries:   cfg.FetchRetries,
		baseDelay: 600 * time.Millisecond,
		sleep:     sleepCtx,
	}
}

// Fetch tries the original URL and then its normalized form, returning the
// first candidate that passes every check. ok=false means no candidate
// passed; the caller degrades gracefully.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (FetchResult, bool) {
	candidates := []string{rawURL}
	if normalized, changed := NormalizeURL(rawURL); changed {
		candidates = append(candidates, normalized)
	}

	for _, candidate := range candidates {
		result, err := f.fetchOne(ctx, candidate)
		if err != nil {
			f.logger.Debug("candidate rejected",
				slog.String("url", truncateForLog(candidate)),
				slog.Any("error", err))
			continue
		}
		return result, true
	}
	return FetchResult{}, false
}

var (
	errBadContentType = errors.New("unsupported content type")
	errTooLarge       = errors.New("media exceeds size limit")
	errTooSmall       = errors.New("media below size floor")
)

func (f *Fetcher) fetchOne(ctx context.Context, candidate string) (FetchResult, error) {
	resp, err := f.getWithRetry(ctx, candidate)
	if err != nil {
		return FetchResult{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return FetchResult{}, errors.New("unexpected status " + resp.Status)
	}

	contentType := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Type")))
	if mediaType, _, found := strings.Cut(contentType, ";"); found {
		contentType = strings.TrimSpace(mediaType)
	}
	if !acceptableType(contentType, candidate) {
		return FetchResult{}, errBadContentType
	}

	if resp.ContentLength > f.maxBytes {
		return FetchResult{}, errTooLarge
	}

	limited := io.LimitReader(resp.Body, f.maxBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return FetchResult{}, err
	}
	if int64(len(data)) > f.maxBytes {
		return FetchResult{}, errTooLarge
	}
	if len(data) < MinMediaBytes {
		return FetchResult{}, errTooSmall
	}

	return FetchResult{
		Data:        data,
		Filename:    suggestedFilename(candidate, contentType),
		ContentType: contentType,
	}, nil
}

// getWithRetry retries transient transport failures with bounded
// exponential backoff. Rejected responses are never retried.
func (f *Fetcher) getWithRetry(ctx context.Context, candidate string) (*http.Response, error) {
	delay := f.baseDelay
	var lastErr error
	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			if err := f.sleep(ctx, delay); err != nil {
				return nil, err
			}
			delay = time.Duration(float64(delay) * 1.5)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, candidate, nil)
		if err != nil {
			return nil, err
		}
		resp, err := f.client.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func acceptableType(contentType, candidate string) bool {
	if strings.HasPrefix(contentType, "image/") || strings.HasPrefix(contentType, "video/") {
		return true
	}
	if contentType != "" && contentType != "application/octet-stream" && contentType != "binary/octet-stream" {
		return false
	}
	_, ok := mediaExtensions[urlExtension(candidate)]
	return ok
}

func suggestedFilename(candidate, contentType string) string {
	name := "media"
	if u, err := url.Parse(candidate); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			name = base
		}
	}
	if path.Ext(name) == "" {
		if ext, ok := contentTypeExtensions[contentType]; ok {
			name += ext
		}
	}
	return name
}

func urlExtension(candidate string) string {
	u, err := url.Parse(candidate)
	if err != nil {
		return strings.ToLower(path.Ext(candidate))
	}
	return strings.ToLower(path.Ext(u.Path))
}

func urlHost(candidate string) string {
	u, err := url.Parse(candidate)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func isRetryable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncateForLog(u string) string {
	const max = 120
	if len(u) > max {
		return u[:max]
	}
	return u
}
