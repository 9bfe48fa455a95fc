package autorespond

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	// storeSubdir is the single reserved namespace under the data root;
	// nothing outside it is ever read or written.
	storeSubdir    = "autorespond"
	maxRelPathLen  = 200
	hashPrefixLen  = 12
	defaultFileExt = ".bin"
)

var safeExtPattern = regexp.MustCompile(`^\.[a-z0-9]{1,9}$`)

// Store persists fetched media under hash-derived names, one file per
// owning rule. Content is deliberately not deduplicated across owners:
// deleting a rule deletes exactly its own files.
type Store struct {
	root   string
	logger *slog.Logger
	now    func() time.Time
}

func NewStore(log *slog.Logger, dataRoot string) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		root:   filepath.Join(dataRoot, storeSubdir),
		logger: log.With(slog.String("component", "media_store")),
		now:    time.Now,
	}
}

// Save writes the buffer under {guildID}/{ruleID}-{unixMs}-{sha1[:12]}{ext}
// and returns the relative path.
func (s *Store) Save(guildID string, ruleID int, data []byte, originalName string) (string, error) {
	if guildID == "" {
		return "", fmt.Errorf("guild id is required")
	}
	sum := sha1.Sum(data)
	name := fmt.Sprintf("%d-%d-%s%s",
		ruleID,
		s.now().UnixMilli(),
		hex.EncodeToString(sum[:])[:hashPrefixLen],
		sanitizeExt(originalName))

	rel := filepath.ToSlash(filepath.Join(guildID, name))
	abs, ok := s.resolve(rel)
	if !ok {
		return "", fmt.Errorf("invalid storage path %q", rel)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create guild dir: %w", err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return "", fmt.Errorf("write media file: %w", err)
	}
	return rel, nil
}

// Load reads a stored file. Any invalid or missing path reads as absent.
func (s *Store) Load(rel string) ([]byte, bool) {
	abs, ok := s.resolve(rel)
	if !ok {
		return nil, false
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Delete removes a stored file, best-effort. A missing file is not an
// error; other I/O errors are logged and swallowed so cleanup never blocks
// a user-facing response.
func (s *Store) Delete(rel string) bool {
	abs, ok := s.resolve(rel)
	if !ok {
		return false
	}
	err := os.Remove(abs)
	if err == nil {
		return true
	}
	if !os.IsNotExist(err) {
		s.logger.Warn("delete media failed", slog.String("path", rel), slog.Any("error", err))
	}
	return false
}

// ModTime returns the stored file's modification time.
func (s *Store) ModTime(rel string) (time.Time, bool) {
	abs, ok := s.resolve(rel)
	if !ok {
		return time.Time{}, false
	}
	info, err := os.Stat(abs)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// ListAll walks the store and returns every stored relative path.
func (s *Store) ListAll() []string {
	var paths []string
	_ = filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, p)
		if relErr != nil {
			return nil
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	return paths
}

// resolve validates a relative path and maps it to an absolute one inside
// the store root. Traversal, absolute paths, and oversized paths all read
// as absent rather than erroring.
func (s *Store) resolve(rel string) (string, bool) {
	rel = strings.TrimSpace(rel)
	if rel == "" || len(rel) > maxRelPathLen {
		return "", false
	}
	if strings.Contains(rel, "..") || strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, "\\") {
		return "", false
	}
	abs := filepath.Join(s.root, filepath.FromSlash(rel))
	root, err := filepath.Abs(s.root)
	if err != nil {
		return "", false
	}
	absClean, err := filepath.Abs(abs)
	if err != nil {
		return "", false
	}
	if !strings.HasPrefix(absClean, root+string(filepath.Separator)) {
		return "", false
	}
	return absClean, true
}

func sanitizeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if !safeExtPattern.MatchString(ext) {
		return defaultFileExt
	}
	return ext
}
