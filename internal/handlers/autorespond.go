package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/parrothq/parrot/internal/autorespond"
	"github.com/parrothq/parrot/internal/rules"
)

const refreshTimeout = 30 * time.Second

// ruleStore is the slice of the rules service the handler drives.
type ruleStore interface {
	GetGuildConfig(ctx context.Context, guildID string) (rules.GuildConfig, error)
	SetEnabled(ctx context.Context, guildID string, enabled bool) error
	AddRule(ctx context.Context, guildID string, req rules.RuleRequest) (rules.Rule, error)
	UpdateRule(ctx context.Context, guildID string, ruleID int, req rules.RuleRequest) (rules.Rule, string, error)
	RemoveRule(ctx context.Context, guildID string, ruleID int) (string, error)
}

// AutoRespondHandler exposes the rule-store CRUD over HTTP. Media-affecting
// edits purge superseded stored files synchronously and kick off a
// background re-fetch of the new URL.
type AutoRespondHandler struct {
	logger     *slog.Logger
	rules      ruleStore
	dispatcher *autorespond.Dispatcher
	validate   *validator.Validate
}

func NewAutoRespondHandler(log *slog.Logger, ruleService *rules.Service, dispatcher *autorespond.Dispatcher) *AutoRespondHandler {
	return &AutoRespondHandler{
		logger:     log.With(slog.String("handler", "autorespond")),
		rules:      ruleService,
		dispatcher: dispatcher,
		validate:   validator.New(),
	}
}

func (h *AutoRespondHandler) Register(e *echo.Echo) {
	g := e.Group("/api/guilds/:guildID/autorespond")
	g.GET("", h.GetConfig)
	g.PUT("/enabled", h.SetEnabled)
	g.POST("/rules", h.CreateRule)
	g.PUT("/rules/:ruleID", h.UpdateRule)
	g.DELETE("/rules/:ruleID", h.DeleteRule)
}

func (h *AutoRespondHandler) GetConfig(c echo.Context) error {
	cfg, err := h.rules.GetGuildConfig(c.Request().Context(), c.Param("guildID"))
	if err != nil {
		h.logger.Error("get guild config failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "get config failed")
	}
	return c.JSON(http.StatusOK, cfg)
}

type setEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *AutoRespondHandler) SetEnabled(c echo.Context) error {
	var req setEnabledRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.rules.SetEnabled(c.Request().Context(), c.Param("guildID"), req.Enabled); err != nil {
		h.logger.Error("set enabled failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "set enabled failed")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AutoRespondHandler) CreateRule(c echo.Context) error {
	guildID := c.Param("guildID")
	req, httpErr := h.bindRuleRequest(c)
	if httpErr != nil {
		return httpErr
	}

	rule, err := h.rules.AddRule(c.Request().Context(), guildID, req)
	if err != nil {
		if errors.Is(err, rules.ErrNotActionable) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		h.logger.Error("add rule failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "add rule failed")
	}

	h.logger.Info("rule created",
		slog.String("request_id", uuid.NewString()),
		slog.String("guild_id", guildID),
		slog.Int("rule_id", rule.ID))
	h.refreshMediaAsync(guildID, rule)
	return c.JSON(http.StatusCreated, rule)
}

func (h *AutoRespondHandler) UpdateRule(c echo.Context) error {
	guildID := c.Param("guildID")
	ruleID, err := strconv.Atoi(c.Param("ruleID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid rule id")
	}
	req, httpErr := h.bindRuleRequest(c)
	if httpErr != nil {
		return httpErr
	}

	rule, stalePath, err := h.rules.UpdateRule(c.Request().Context(), guildID, ruleID, req)
	if err != nil {
		switch {
		case errors.Is(err, rules.ErrRuleNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "rule not found")
		case errors.Is(err, rules.ErrNotActionable):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		h.logger.Error("update rule failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "update rule failed")
	}

	if stalePath != "" {
		h.dispatcher.PurgeStored(stalePath)
	}
	// A cleared (or never-set) stored path with a media URL means the file
	// needs fetching, whether the URL changed or was added for the first
	// time.
	if rule.MediaStoredPath == "" {
		h.refreshMediaAsync(guildID, rule)
	}
	h.logger.Info("rule updated",
		slog.String("request_id", uuid.NewString()),
		slog.String("guild_id", guildID),
		slog.Int("rule_id", rule.ID))
	return c.JSON(http.StatusOK, rule)
}

func (h *AutoRespondHandler) DeleteRule(c echo.Context) error {
	guildID := c.Param("guildID")
	ruleID, err := strconv.Atoi(c.Param("ruleID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid rule id")
	}

	storedPath, err := h.rules.RemoveRule(c.Request().Context(), guildID, ruleID)
	if err != nil {
		if errors.Is(err, rules.ErrRuleNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "rule not found")
		}
		h.logger.Error("remove rule failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "remove rule failed")
	}

	h.dispatcher.PurgeStored(storedPath)
	h.logger.Info("rule deleted",
		slog.String("request_id", uuid.NewString()),
		slog.String("guild_id", guildID),
		slog.Int("rule_id", ruleID))
	return c.NoContent(http.StatusNoContent)
}

func (h *AutoRespondHandler) bindRuleRequest(c echo.Context) (rules.RuleRequest, *echo.HTTPError) {
	var req rules.RuleRequest
	if err := c.Bind(&req); err != nil {
		return rules.RuleRequest{}, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req = req.Normalize()
	if err := h.validate.Struct(req); err != nil {
		return rules.RuleRequest{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return req, nil
}

func (h *AutoRespondHandler) refreshMediaAsync(guildID string, rule rules.Rule) {
	if rule.MediaURL == "" || h.dispatcher == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		h.dispatcher.RefreshRuleMedia(ctx, guildID, rule.ID)
	}()
}
