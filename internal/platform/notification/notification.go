// Package notification sends operator messages, such as the batch run
// summary, through Telegram using rendered templates.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/claimbot/claimbot/internal/platform/httpclient"
)

// ---------------------------------------------------------------------------
// Notification
// ---------------------------------------------------------------------------

// Notification is a single outbound message.
type Notification struct {
	ID           string            `json:"id"`
	Recipient    string            `json:"recipient"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Sender delivers a text to a chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

const (
	TemplateRunSummary = "run-summary"
	TemplateRunAborted = "run-aborted"
)

// Template is a reusable message body with {{key}} placeholders.
type Template struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Body string `json:"body"`
}

// TemplateEngine holds the built-in templates and renders them with data.
type TemplateEngine struct {
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:   TemplateRunSummary,
			Name: "Run Summary",
			Body: "Claim run {{date}} finished in {{duration}}.\n" +
				"Processed: {{processed}}\nSubmitted: {{submitted}}\nSkipped: {{skipped}}\n" +
				"Failed: {{failed}}\nRemaining on list: {{remaining}}",
		},
		{
			ID:   TemplateRunAborted,
			Name: "Run Aborted",
			Body: "Claim run {{date}} stopped: {{reason}}\nRemaining on list: {{remaining}}",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// Render performs {{key}} replacement on the template body. Placeholders
// without data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (string, error) {
	t, ok := e.templates[templateID]
	if !ok {
		return "", fmt.Errorf("template %q not found", templateID)
	}

	body := t.Body
	for k, v := range data {
		body = strings.ReplaceAll(body, "{{"+k+"}}", v)
	}
	return body, nil
}

// ---------------------------------------------------------------------------
// Telegram
// ---------------------------------------------------------------------------

// DefaultTelegramURL is the Bot API base.
const DefaultTelegramURL = "https://api.telegram.org"

// ErrTelegram is returned when the Bot API answers ok=false.
var ErrTelegram = errors.New("telegram rejected message")

// TelegramSender posts messages with the Bot API sendMessage method.
type TelegramSender struct {
	client  *httpclient.Client
	baseURL string
	token   string
}

// NewTelegramSender builds a sender; an empty baseURL selects
// DefaultTelegramURL.
func NewTelegramSender(client *httpclient.Client, baseURL, token string) *TelegramSender {
	if baseURL == "" {
		baseURL = DefaultTelegramURL
	}
	return &TelegramSender{client: client, baseURL: strings.TrimRight(baseURL, "/"), token: token}
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// SendMessage implements Sender.
func (s *TelegramSender) SendMessage(ctx context.Context, chatID, text string) error {
	var out sendMessageResponse
	url := s.baseURL + "/bot" + s.token + "/sendMessage"
	err := s.client.PostJSON(ctx, url, sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		DisableWebPagePreview: true,
	}, &out)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if !out.OK {
		return fmt.Errorf("%w: %s", ErrTelegram, out.Description)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Notifier
// ---------------------------------------------------------------------------

// Notifier renders templates, sends them to one chat and remembers what it
// sent so failures can be retried.
type Notifier struct {
	sender    Sender
	templates *TemplateEngine
	chatID    string
	logger    zerolog.Logger

	mu            sync.RWMutex
	notifications map[string]*Notification
}

// NewNotifier constructs a Notifier. A nil template engine selects the
// built-in templates.
func NewNotifier(sender Sender, tpl *TemplateEngine, chatID string, logger zerolog.Logger) *Notifier {
	if tpl == nil {
		tpl = NewTemplateEngine()
	}
	return &Notifier{
		sender:        sender,
		templates:     tpl,
		chatID:        chatID,
		logger:        logger,
		notifications: make(map[string]*Notification),
	}
}

// Send delivers n, assigning an ID and timestamps, and records it.
func (m *Notifier) Send(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Recipient == "" {
		n.Recipient = m.chatID
	}
	n.CreatedAt = time.Now().UTC()
	n.Status = "pending"

	sendErr := m.sender.SendMessage(ctx, n.Recipient, n.Body)
	m.mu.Lock()
	if sendErr != nil {
		n.Status = "failed"
		n.Error = sendErr.Error()
	} else {
		n.Status = "sent"
		sentAt := time.Now().UTC()
		n.SentAt = &sentAt
	}
	m.notifications[n.ID] = n
	m.mu.Unlock()

	if sendErr != nil {
		m.logger.Warn().Err(sendErr).Str("template", n.TemplateID).Msg("notification failed")
		return sendErr
	}
	m.logger.Debug().Str("template", n.TemplateID).Msg("notification sent")
	return nil
}

// SendFromTemplate renders a template and sends the result.
func (m *Notifier) SendFromTemplate(ctx context.Context, templateID string, data map[string]string) (*Notification, error) {
	body, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	n := &Notification{
		Body:         body,
		TemplateID:   templateID,
		TemplateData: data,
	}
	if err := m.Send(ctx, n); err != nil {
		return n, err
	}
	return n, nil
}

// Retry re-sends a failed notification.
func (m *Notifier) Retry(ctx context.Context, id string) error {
	m.mu.RLock()
	n, ok := m.notifications[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("notification %q not found", id)
	}
	if n.Status != "failed" {
		return fmt.Errorf("notification %q is not in failed status (current: %s)", id, n.Status)
	}
	n.Error = ""
	return m.Send(ctx, n)
}
