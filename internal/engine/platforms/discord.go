package platforms

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apperrors "contentflow/internal/pkg/errors"
	"contentflow/internal/platform/config"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
)

// discordSession is the subset of *discordgo.Session the adapter uses.
type discordSession interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
}

// DiscordAdapter posts to one channel through the bot REST API. Discord has no
// idempotency key for message creation, so the queue treats it as at-most-once.
type DiscordAdapter struct {
	caps      Capabilities
	session   discordSession
	channelID string
}

func NewDiscordAdapter(caps Capabilities, cfg config.PlatformConfig) (*DiscordAdapter, error) {
	if cfg.Token == "" || cfg.ChannelID == "" {
		return nil, errors.New("discord adapter needs token and channel_id")
	}
	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}
	return newDiscordAdapter(caps, dg, cfg.ChannelID), nil
}

func newDiscordAdapter(caps Capabilities, s discordSession, channelID string) *DiscordAdapter {
	caps.Idempotent = false
	return &DiscordAdapter{caps: caps, session: s, channelID: channelID}
}

func (a *DiscordAdapter) Capabilities() Capabilities { return a.caps }

func (a *DiscordAdapter) Validate(req *PublishRequest) ValidationResult {
	return ValidateRequest(a.caps, req)
}

func (a *DiscordAdapter) Publish(ctx context.Context, req *PublishRequest) (*PublishResult, error) {
	msg := &discordgo.MessageSend{Content: ComposeText(req.Caption, req.Hashtags)}

	var videos []string
	for _, m := range req.Media {
		if m.Type == "image" {
			msg.Embeds = append(msg.Embeds, &discordgo.MessageEmbed{
				Image: &discordgo.MessageEmbedImage{URL: m.URL},
			})
			continue
		}
		videos = append(videos, m.URL)
	}
	if len(videos) > 0 {
		msg.Content = strings.TrimSpace(msg.Content + "\n" + strings.Join(videos, "\n"))
	}

	sent, err := a.session.ChannelMessageSendComplex(a.channelID, msg, discordgo.WithContext(ctx))
	if err != nil {
		return nil, a.classify(ctx, err)
	}

	return &PublishResult{
		Success:        true,
		PlatformPostID: sent.ID,
		URL:            fmt.Sprintf("https://discord.com/channels/%s/%s/%s", sent.GuildID, sent.ChannelID, sent.ID),
	}, nil
}

func (a *DiscordAdapter) Delete(ctx context.Context, platformPostID string) bool {
	if err := a.session.ChannelMessageDelete(a.channelID, platformPostID, discordgo.WithContext(ctx)); err != nil {
		log.Warn().Err(err).Str("message_id", platformPostID).Msg("failed to delete discord message")
		return false
	}
	return true
}

// Metrics reports the total reaction count as likes.
func (a *DiscordAdapter) Metrics(ctx context.Context, platformPostID string) Engagement {
	m, err := a.session.ChannelMessage(a.channelID, platformPostID, discordgo.WithContext(ctx))
	if err != nil {
		return Engagement{}
	}
	var e Engagement
	for _, r := range m.Reactions {
		e.Likes += int64(r.Count)
	}
	if m.Thread != nil {
		e.Comments = int64(m.Thread.MessageCount)
	}
	return e
}

func (a *DiscordAdapter) TestConnection(ctx context.Context) bool {
	_, err := a.session.User("@me", discordgo.WithContext(ctx))
	return err == nil
}

func (a *DiscordAdapter) classify(ctx context.Context, err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		se := &StatusError{StatusCode: restErr.Response.StatusCode, Body: string(restErr.ResponseBody)}
		return apperrors.Wrap(apperrors.KindAdapter, se, "discord send failed")
	}
	return classify(ctx, err)
}
