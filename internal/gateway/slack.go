package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// AgentPersona defines how an agent appears on chat platforms.
type AgentPersona struct {
	Name    string `json:"name"`
	IconURL string `json:"iconUrl"`
	Emoji   string `json:"emoji"` // fallback if no icon_url, e.g. ":robot_face:"
}

var kindColors = map[Kind]string{
	KindCompleted: "good",
	KindFailed:    "danger",
	KindCancelled: "warning",
}

// SlackAdapter posts notifications to one Slack channel through the Web API.
type SlackAdapter struct {
	channel     string
	client      *slack.Client
	personas    map[string]*AgentPersona // agentID -> persona
	connected   bool
	connectedAt time.Time
	botName     string
	lastError   string
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewSlackAdapter creates a Slack adapter.
// botToken is the Bot User OAuth Token (xoxb-...). Extra client options
// such as slack.OptionAPIURL are passed through.
func NewSlackAdapter(botToken, channel string, logger *zap.Logger, opts ...slack.Option) *SlackAdapter {
	return &SlackAdapter{
		channel:  channel,
		client:   slack.New(botToken, opts...),
		personas: make(map[string]*AgentPersona),
		logger:   logger,
	}
}

func (a *SlackAdapter) Platform() string { return "slack" }

// SetPersona registers an agent's display persona for Slack messages.
func (a *SlackAdapter) SetPersona(agentID string, persona *AgentPersona) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.personas[agentID] = persona
}

// Connect verifies the token.
func (a *SlackAdapter) Connect(ctx context.Context) error {
	resp, err := a.client.AuthTestContext(ctx)
	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.connected = false
		a.lastError = fmt.Sprintf("auth test: %v", err)
		return fmt.Errorf("slack auth: %w", err)
	}
	a.connected = true
	a.connectedAt = time.Now()
	a.botName = resp.User
	a.lastError = ""
	a.logger.Info("slack adapter connected", zap.String("user", resp.User), zap.String("team", resp.Team))
	return nil
}

// Notify posts n to the configured channel as a colored attachment.
func (a *SlackAdapter) Notify(ctx context.Context, n *Notification) error {
	att := slack.Attachment{
		Color:  kindColors[n.Kind],
		Title:  n.Title,
		Text:   n.Content,
		Footer: n.ExecutionID,
		Fields: []slack.AttachmentField{
			{Title: "Task", Value: n.TaskID, Short: true},
			{Title: "Status", Value: string(n.Kind), Short: true},
		},
	}
	if n.AgentID != "" {
		att.Fields = append(att.Fields, slack.AttachmentField{Title: "Agent", Value: n.AgentID, Short: true})
	}
	if n.ExecutionTime > 0 {
		att.Fields = append(att.Fields, slack.AttachmentField{
			Title: "Duration", Value: (time.Duration(n.ExecutionTime) * time.Millisecond).String(), Short: true,
		})
	}

	opts := []slack.MsgOption{
		slack.MsgOptionText(n.Title, false),
		slack.MsgOptionAttachments(att),
	}
	opts = append(opts, a.personaOpts(n.AgentID)...)

	if _, _, err := a.client.PostMessageContext(ctx, a.channel, opts...); err != nil {
		a.logger.Error("slack send failed",
			zap.String("channel", a.channel), zap.Error(err))
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

// personaOpts builds Slack message options for agent persona display.
func (a *SlackAdapter) personaOpts(agentID string) []slack.MsgOption {
	if agentID == "" {
		return nil
	}
	a.mu.RLock()
	p, ok := a.personas[agentID]
	a.mu.RUnlock()
	if !ok {
		return nil
	}

	opts := []slack.MsgOption{
		slack.MsgOptionUsername(p.Name),
	}
	if p.IconURL != "" {
		opts = append(opts, slack.MsgOptionIconURL(p.IconURL))
	} else if p.Emoji != "" {
		opts = append(opts, slack.MsgOptionIconEmoji(p.Emoji))
	}
	return opts
}

func (a *SlackAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{Platform: "slack", Connected: a.connected, Error: a.lastError}
	if a.connected {
		t := a.connectedAt
		s.ConnectedAt = &t
		s.Details = fmt.Sprintf("bot=%s, channel=%s", a.botName, a.channel)
	}
	return s
}

// Close is a no-op; the Web API client holds no connection.
func (a *SlackAdapter) Close() error {
	return nil
}
