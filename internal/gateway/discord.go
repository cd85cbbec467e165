package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

var kindEmbedColors = map[Kind]int{
	KindCompleted: 0x2ecc71,
	KindFailed:    0xe74c3c,
	KindCancelled: 0xf1c40f,
}

// DiscordAdapter posts notifications to one Discord channel via the bot gateway.
type DiscordAdapter struct {
	token       string
	channel     string
	session     *discordgo.Session
	personas    map[string]*AgentPersona // agentID -> persona
	webhook     string                   // optional webhook URL for persona messages
	connected   bool
	connectedAt time.Time
	lastError   string
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewDiscordAdapter creates a Discord adapter.
func NewDiscordAdapter(token, channel string, logger *zap.Logger) *DiscordAdapter {
	return &DiscordAdapter{
		token:    token,
		channel:  channel,
		personas: make(map[string]*AgentPersona),
		logger:   logger,
	}
}

func (a *DiscordAdapter) Platform() string { return "discord" }

// SetPersona registers an agent's display persona for Discord messages.
func (a *DiscordAdapter) SetPersona(agentID string, persona *AgentPersona) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.personas[agentID] = persona
}

// SetWebhook registers a webhook URL for the channel to enable persona
// messages. The URL has the form https://discord.com/api/webhooks/<id>/<token>.
func (a *DiscordAdapter) SetWebhook(webhookURL string) error {
	if _, _, err := parseWebhookURL(webhookURL); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.webhook = webhookURL
	return nil
}

// parseWebhookURL extracts the webhook id and token.
func parseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("discord webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("discord webhook url: %q has no /webhooks/<id>/<token> path", raw)
}

// Connect opens the Discord gateway websocket.
func (a *DiscordAdapter) Connect(_ context.Context) error {
	session, err := discordgo.New("Bot " + a.token)
	if err != nil {
		a.fail(fmt.Sprintf("session create: %v", err))
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	if err := session.Open(); err != nil {
		a.fail(fmt.Sprintf("open failed: %v", err))
		return fmt.Errorf("discord open: %w", err)
	}

	a.mu.Lock()
	a.session = session
	a.connected = true
	a.connectedAt = time.Now()
	a.lastError = ""
	a.mu.Unlock()

	a.logger.Info("discord adapter connected",
		zap.String("user", session.State.User.Username),
		zap.Int("guilds", len(session.State.Guilds)))
	return nil
}

func (a *DiscordAdapter) fail(msg string) {
	a.mu.Lock()
	a.lastError = msg
	a.connected = false
	a.mu.Unlock()
}

// Notify posts n to the channel as an embed. With a webhook and a persona
// for the agent, the message carries the agent's name and avatar.
func (a *DiscordAdapter) Notify(_ context.Context, n *Notification) error {
	a.mu.RLock()
	session := a.session
	webhookURL := a.webhook
	persona, hasPersona := a.personas[n.AgentID]
	a.mu.RUnlock()

	if session == nil {
		return fmt.Errorf("discord: not connected")
	}
	embed := notificationEmbed(n)

	if webhookURL != "" && hasPersona {
		return a.sendViaWebhook(session, webhookURL, persona, embed)
	}
	if _, err := session.ChannelMessageSendEmbed(a.channel, embed); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

func notificationEmbed(n *Notification) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       n.Title,
		Description: n.Content,
		Color:       kindEmbedColors[n.Kind],
		Timestamp:   n.Timestamp.Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: n.ExecutionID},
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Task", Value: n.TaskID, Inline: true},
			{Name: "Status", Value: string(n.Kind), Inline: true},
		},
	}
	if n.AgentID != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Agent", Value: n.AgentID, Inline: true})
	}
	return embed
}

// sendViaWebhook posts an embed using a Discord webhook with custom name/avatar.
func (a *DiscordAdapter) sendViaWebhook(session *discordgo.Session, webhookURL string, persona *AgentPersona, embed *discordgo.MessageEmbed) error {
	id, token, err := parseWebhookURL(webhookURL)
	if err != nil {
		return err
	}

	params := &discordgo.WebhookParams{
		Username: persona.Name,
		Embeds:   []*discordgo.MessageEmbed{embed},
	}
	if persona.IconURL != "" {
		params.AvatarURL = persona.IconURL
	}

	if _, err = session.WebhookExecute(id, token, false, params); err != nil {
		return fmt.Errorf("discord webhook execute: %w", err)
	}
	return nil
}

// Close shuts down the Discord session.
func (a *DiscordAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	if a.session != nil {
		return a.session.Close()
	}
	return nil
}

func (a *DiscordAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{
		Platform:  "discord",
		Connected: a.connected,
		Error:     a.lastError,
	}
	if a.connected {
		t := a.connectedAt
		s.ConnectedAt = &t
		guildCount := 0
		if a.session != nil && a.session.State != nil {
			guildCount = len(a.session.State.Guilds)
		}
		s.Details = fmt.Sprintf("channel=%s, guilds=%d", a.channel, guildCount)
	}
	return s
}
