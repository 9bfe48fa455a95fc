package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/parrothq/parrot/internal/autorespond"
)

// Discord error codes for sticker rejections, inspected so the dispatcher
// can take the right degrade-ladder step.
const (
	errCodeUnknownSticker     = 10060
	errCodeInvalidStickerSent = 50081
)

// Adapter connects the Discord gateway to the auto-respond dispatcher and
// implements the outbound Sender.
type Adapter struct {
	logger        *slog.Logger
	session       *discordgo.Session
	dispatcher    *autorespond.Dispatcher
	removeHandler func()
}

func NewAdapter(log *slog.Logger, botToken string, dispatcher *autorespond.Dispatcher) (*Adapter, error) {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(botToken) == "" {
		return nil, fmt.Errorf("discord bot token is required")
	}

	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent

	return &Adapter{
		logger:     log.With(slog.String("adapter", "discord")),
		session:    session,
		dispatcher: dispatcher,
	}, nil
}

// Open registers the message handler and connects the gateway. Each inbound
// message is handled on its own goroutine so a slow media fetch for one
// channel never blocks another.
func (a *Adapter) Open(ctx context.Context) error {
	a.removeHandler = a.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		if m.GuildID == "" {
			return
		}
		if ctx.Err() != nil {
			return
		}

		content := strings.TrimSpace(m.Content)
		if content == "" {
			return
		}

		msg := autorespond.Message{
			GuildID:   m.GuildID,
			ChannelID: m.ChannelID,
			MessageID: m.ID,
			AuthorID:  m.Author.ID,
			Content:   content,
		}

		go a.dispatcher.HandleMessage(ctx, msg, a)
	})

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("discord open connection: %w", err)
	}
	a.logger.Info("gateway connected")
	return nil
}

func (a *Adapter) Close() error {
	if a.removeHandler != nil {
		a.removeHandler()
		a.removeHandler = nil
	}
	a.logger.Info("gateway disconnecting")
	return a.session.Close()
}

// Send delivers a payload to a channel. Sticker rejections come back
// wrapped in autorespond.ErrInvalidSticker.
func (a *Adapter) Send(ctx context.Context, channelID string, payload autorespond.Payload) error {
	send := &discordgo.MessageSend{
		Content: payload.Content,
	}
	if payload.File != nil {
		send.Files = []*discordgo.File{{
			Name:   payload.File.Name,
			Reader: bytes.NewReader(payload.File.Data),
		}}
	}
	if payload.StickerID != "" {
		send.StickerIDs = []string{payload.StickerID}
	}

	_, err := a.session.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
	if err != nil && isStickerError(err) {
		return fmt.Errorf("%w: %w", autorespond.ErrInvalidSticker, err)
	}
	return err
}

func isStickerError(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Message == nil {
		return false
	}
	switch restErr.Message.Code {
	case errCodeUnknownSticker, errCodeInvalidStickerSent:
		return true
	}
	return false
}
