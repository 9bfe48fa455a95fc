package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrRuleNotFound  = errors.New("auto-respond rule not found")
	ErrNotActionable = errors.New("rule needs a reply text, media url, or sticker id")
)

// Service is the Postgres-backed rule store. It owns rule metadata; the
// auto-respond pipeline reads rules through it and writes back only the
// derived stored-media fields.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "rules")),
	}
}

const ruleColumns = `rule_id, guild_id, trigger_text, match_mode, case_sensitive, channel_id,
	reply_text, media_url, sticker_id, media_stored_path, media_stored_name,
	created_at, updated_at`

// GetGuildConfig returns the guild's enabled flag and rule set. A guild with
// no settings row is enabled by default with no rules.
func (s *Service) GetGuildConfig(ctx context.Context, guildID string) (GuildConfig, error) {
	cfg := GuildConfig{GuildID: guildID, Enabled: true}

	err := s.pool.QueryRow(ctx,
		`SELECT enabled FROM guild_autorespond_settings WHERE guild_id = $1`, guildID,
	).Scan(&cfg.Enabled)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return GuildConfig{}, fmt.Errorf("get guild settings: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+ruleColumns+` FROM autorespond_rules WHERE guild_id = $1 ORDER BY rule_id`, guildID)
	if err != nil {
		return GuildConfig{}, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return GuildConfig{}, fmt.Errorf("scan rule: %w", err)
		}
		cfg.Rules = append(cfg.Rules, rule)
	}
	if err := rows.Err(); err != nil {
		return GuildConfig{}, fmt.Errorf("list rules: %w", err)
	}
	return cfg, nil
}

// GetRule returns a single rule.
func (s *Service) GetRule(ctx context.Context, guildID string, ruleID int) (Rule, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM autorespond_rules WHERE guild_id = $1 AND rule_id = $2`,
		guildID, ruleID)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Rule{}, ErrRuleNotFound
		}
		return Rule{}, fmt.Errorf("get rule: %w", err)
	}
	return rule, nil
}

// AddRule inserts a new rule with the next free id within the guild.
func (s *Service) AddRule(ctx context.Context, guildID string, req RuleRequest) (Rule, error) {
	req = req.Normalize()
	if err := validateActionable(req); err != nil {
		return Rule{}, err
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO autorespond_rules
			(guild_id, rule_id, trigger_text, match_mode, case_sensitive, channel_id, reply_text, media_url, sticker_id)
		VALUES ($1,
			(SELECT COALESCE(MAX(rule_id), 0) + 1 FROM autorespond_rules WHERE guild_id = $1),
			$2, $3, $4, $5, $6, $7, $8)
		RETURNING `+ruleColumns,
		guildID, req.Trigger, req.MatchMode, req.CaseSensitive, req.ChannelID,
		req.ReplyText, req.MediaURL, req.StickerID)

	rule, err := scanRule(row)
	if err != nil {
		return Rule{}, fmt.Errorf("insert rule: %w", err)
	}
	s.logger.Info("rule added",
		slog.String("guild_id", guildID),
		slog.Int("rule_id", rule.ID),
		slog.String("match_mode", string(rule.MatchMode)))
	return rule, nil
}

// UpdateRule replaces the writable fields of a rule. When the media URL
// changes the stored-media fields are cleared in the same statement; the
// previous stored path is returned so the caller can purge the file
// synchronously.
func (s *Service) UpdateRule(ctx context.Context, guildID string, ruleID int, req RuleRequest) (Rule, string, error) {
	req = req.Normalize()
	if err := validateActionable(req); err != nil {
		return Rule{}, "", err
	}

	prev, err := s.GetRule(ctx, guildID, ruleID)
	if err != nil {
		return Rule{}, "", err
	}

	stalePath := ""
	keepStored := prev.MediaURL == req.MediaURL
	if !keepStored {
		stalePath = prev.MediaStoredPath
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE autorespond_rules SET
			trigger_text = $3, match_mode = $4, case_sensitive = $5, channel_id = $6,
			reply_text = $7, media_url = $8, sticker_id = $9,
			media_stored_path = CASE WHEN $10 THEN media_stored_path ELSE '' END,
			media_stored_name = CASE WHEN $10 THEN media_stored_name ELSE '' END,
			updated_at = now()
		WHERE guild_id = $1 AND rule_id = $2
		RETURNING `+ruleColumns,
		guildID, ruleID, req.Trigger, req.MatchMode, req.CaseSensitive, req.ChannelID,
		req.ReplyText, req.MediaURL, req.StickerID, keepStored)

	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Rule{}, "", ErrRuleNotFound
		}
		return Rule{}, "", fmt.Errorf("update rule: %w", err)
	}
	s.logger.Info("rule updated",
		slog.String("guild_id", guildID),
		slog.Int("rule_id", rule.ID),
		slog.Bool("media_changed", !keepStored))
	return rule, stalePath, nil
}

// RemoveRule deletes a rule and returns its stored media path, if any, so
// the caller can purge the file.
func (s *Service) RemoveRule(ctx context.Context, guildID string, ruleID int) (string, error) {
	var stored string
	err := s.pool.QueryRow(ctx,
		`DELETE FROM autorespond_rules WHERE guild_id = $1 AND rule_id = $2 RETURNING media_stored_path`,
		guildID, ruleID).Scan(&stored)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrRuleNotFound
		}
		return "", fmt.Errorf("delete rule: %w", err)
	}
	s.logger.Info("rule removed", slog.String("guild_id", guildID), slog.Int("rule_id", ruleID))
	return stored, nil
}

// SetEnabled toggles auto-respond for a guild.
func (s *Service) SetEnabled(ctx context.Context, guildID string, enabled bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO guild_autorespond_settings (guild_id, enabled) VALUES ($1, $2)
		ON CONFLICT (guild_id) DO UPDATE SET enabled = $2, updated_at = now()`,
		guildID, enabled)
	if err != nil {
		return fmt.Errorf("set enabled: %w", err)
	}
	return nil
}

// SetStoredMedia records where a rule's media has been persisted.
func (s *Service) SetStoredMedia(ctx context.Context, guildID string, ruleID int, relPath, name string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE autorespond_rules SET media_stored_path = $3, media_stored_name = $4, updated_at = now()
		WHERE guild_id = $1 AND rule_id = $2`,
		guildID, ruleID, relPath, name)
	if err != nil {
		return fmt.Errorf("set stored media: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// ClearStoredMedia drops the stored-media fields, e.g. after a failed
// re-fetch of an edited media URL.
func (s *Service) ClearStoredMedia(ctx context.Context, guildID string, ruleID int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE autorespond_rules SET media_stored_path = '', media_stored_name = '', updated_at = now()
		WHERE guild_id = $1 AND rule_id = $2`,
		guildID, ruleID)
	if err != nil {
		return fmt.Errorf("clear stored media: %w", err)
	}
	return nil
}

// ListStoredMediaPaths returns every stored media path currently referenced
// by a rule, keyed for set membership. Used by the orphan sweeper.
func (s *Service) ListStoredMediaPaths(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT media_stored_path FROM autorespond_rules WHERE media_stored_path <> ''`)
	if err != nil {
		return nil, fmt.Errorf("list stored media: %w", err)
	}
	defer rows.Close()

	paths := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan stored media: %w", err)
		}
		paths[p] = struct{}{}
	}
	return paths, rows.Err()
}

func validateActionable(req RuleRequest) error {
	if req.ReplyText == "" && req.MediaURL == "" && req.StickerID == "" {
		return ErrNotActionable
	}
	if strings.TrimSpace(req.Trigger) == "" {
		return fmt.Errorf("trigger is required")
	}
	return nil
}

func scanRule(row pgx.Row) (Rule, error) {
	var r Rule
	var mode string
	err := row.Scan(&r.ID, &r.GuildID, &r.Trigger, &mode, &r.CaseSensitive, &r.ChannelID,
		&r.ReplyText, &r.MediaURL, &r.StickerID, &r.MediaStoredPath, &r.MediaStoredName,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Rule{}, err
	}
	r.MatchMode = MatchMode(mode)
	return r, nil
}
