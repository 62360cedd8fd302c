// Package notify sends customer and operator mail through the mail relay.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"printshop-orders/internal/util"

	"go.uber.org/zap"
)

var ErrNotConfigured = errors.New("mail service not configured")

// Message is one outbound mail
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Receipt is the relay's answer for an accepted message
type Receipt struct {
	Accepted  bool   `json:"accepted"`
	MessageID string `json:"message_id,omitempty"`
}

// Sender delivers a single message
type Sender interface {
	Send(ctx context.Context, msg Message) (*Receipt, error)
}

// MailerConfig configures the Resend relay
type MailerConfig struct {
	BaseURL      string
	APIKey       string
	From         string
	OperatorCopy string
	Timeout      time.Duration
}

// Mailer posts messages to the Resend API. Every message not already
// addressed to the operator is copied there.
type Mailer struct {
	cfg        MailerConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewMailer creates a mail relay client
func NewMailer(cfg MailerConfig) *Mailer {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Mailer{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     util.Named("mailer"),
	}
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type resendResponse struct {
	ID string `json:"id"`
}

// Send delivers msg and then the operator copy. A failed copy is only logged.
func (m *Mailer) Send(ctx context.Context, msg Message) (*Receipt, error) {
	if msg.To == "" || msg.Subject == "" || msg.HTML == "" {
		return nil, fmt.Errorf("missing required fields: to, subject, html")
	}
	if m.cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}

	id, err := m.post(ctx, msg)
	if err != nil {
		return nil, err
	}

	if op := m.cfg.OperatorCopy; op != "" && !strings.EqualFold(op, msg.To) {
		cp := Message{
			To:      op,
			Subject: "[Admin Copy] " + msg.Subject,
			HTML: `<div style="padding:10px;margin-bottom:10px;background:#fff3cd;border:1px solid #ffc107;border-radius:4px;"><small>Admin copy, original sent to: ` +
				html.EscapeString(msg.To) + `</small></div>` + msg.HTML,
		}
		if _, err := m.post(ctx, cp); err != nil {
			m.logger.Warn("Operator copy failed", zap.String("to", msg.To), zap.Error(err))
		}
	}

	return &Receipt{Accepted: true, MessageID: id}, nil
}

func (m *Mailer) post(ctx context.Context, msg Message) (string, error) {
	body, err := json.Marshal(resendRequest{
		From:    m.cfg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal mail request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("mail relay request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("mail relay returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out resendResponse
	_ = json.Unmarshal(raw, &out)
	return out.ID, nil
}
