// Package discord adapts the Discord API to the reminder core's ports:
// NotificationPort, ReactionSource and EligibilityResolver.
package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

type Config struct {
	Token string

	// SendRatePerSec / SendBurst bound outbound message sends on top of
	// discordgo's own per-route limiter (defaults 5/s, burst 5).
	SendRatePerSec float64
	SendBurst      int
}

// ReactionChanged receives debounce-worthy reaction signals from the gateway.
type ReactionChanged func(guildID, channelID, messageID string)

type Adapter struct {
	log     logx.Logger
	session *discordgo.Session
	limiter *rate.Limiter

	onReaction ReactionChanged
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("discord token required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s, err := discordgo.New("Bot " + strings.TrimSpace(cfg.Token))
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessageReactions

	rps := cfg.SendRatePerSec
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.SendBurst
	if burst <= 0 {
		burst = 5
	}

	a := &Adapter{
		log:     log,
		session: s,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageReactionAdd) {
		a.reactionChanged(e.GuildID, e.ChannelID, e.MessageID)
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageReactionRemove) {
		a.reactionChanged(e.GuildID, e.ChannelID, e.MessageID)
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageReactionRemoveAll) {
		a.reactionChanged(e.GuildID, e.ChannelID, e.MessageID)
	})
	return a, nil
}

// SetReactionHandler installs the callback invoked on every gateway reaction
// change. Must be set before Open.
func (a *Adapter) SetReactionHandler(fn ReactionChanged) { a.onReaction = fn }

func (a *Adapter) reactionChanged(guildID, channelID, messageID string) {
	if a.onReaction == nil || guildID == "" {
		return
	}
	a.onReaction(guildID, channelID, messageID)
}

func (a *Adapter) Open() error  { return a.session.Open() }
func (a *Adapter) Close() error { return a.session.Close() }

// Send implements reminder.NotificationPort: one message pinging the users
// who have not reacted yet.
func (a *Adapter) Send(ctx context.Context, guildID, channelID string, p reminder.Payload) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := a.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: formatNotice(p),
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return classify(err)
	}
	a.log.Debug("reminder notice sent",
		logx.String("guild_id", guildID), logx.String("channel_id", channelID),
		logx.Int("missing", len(p.MissingUserIDs)))
	return nil
}

func formatNotice(p reminder.Payload) string {
	var b strings.Builder
	if p.Title != "" {
		b.WriteString("**")
		b.WriteString(p.Title)
		b.WriteString("**: ")
	}
	b.WriteString("still waiting on a reaction from: ")
	for i, id := range p.MissingUserIDs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("<@")
		b.WriteString(id)
		b.WriteString(">")
	}
	return b.String()
}

// FetchReactions implements reminder.ReactionSource. It re-reads the message
// to learn which emoji are present, then pages through each emoji's reactors.
func (a *Adapter) FetchReactions(ctx context.Context, channelID, messageID string) (map[string][]string, error) {
	msg, err := a.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify(err)
	}

	out := map[string][]string{}
	for _, r := range msg.Reactions {
		if r == nil || r.Emoji == nil {
			continue
		}
		name := r.Emoji.APIName()
		users, err := a.fetchReactors(ctx, channelID, messageID, name)
		if err != nil {
			return nil, err
		}
		out[name] = users
	}
	return out, nil
}

func (a *Adapter) fetchReactors(ctx context.Context, channelID, messageID, emoji string) ([]string, error) {
	const page = 100
	var (
		ids   []string
		after string
	)
	for {
		users, err := a.session.MessageReactions(channelID, messageID, emoji, page, "", after, discordgo.WithContext(ctx))
		if err != nil {
			return nil, classify(err)
		}
		for _, u := range users {
			if u == nil || u.Bot {
				continue
			}
			ids = append(ids, u.ID)
		}
		if len(users) < page {
			return ids, nil
		}
		after = users[len(users)-1].ID
	}
}

// EligibleUsers implements reminder.EligibilityResolver: non-bot guild
// members who can view the channel.
func (a *Adapter) EligibleUsers(ctx context.Context, guildID, channelID string) (map[string]struct{}, error) {
	const page = 1000
	out := map[string]struct{}{}
	after := ""
	for {
		members, err := a.session.GuildMembers(guildID, after, page, discordgo.WithContext(ctx))
		if err != nil {
			return nil, classify(err)
		}
		for _, m := range members {
			if m == nil || m.User == nil || m.User.Bot {
				continue
			}
			perms, err := a.session.UserChannelPermissions(m.User.ID, channelID)
			if err == nil && perms&discordgo.PermissionViewChannel == 0 {
				continue
			}
			out[m.User.ID] = struct{}{}
		}
		if len(members) < page {
			return out, nil
		}
		after = members[len(members)-1].User.ID
	}
}
