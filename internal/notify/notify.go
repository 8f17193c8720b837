// Package notify delivers human-readable trade outcome messages to an
// outbound push channel. The production implementation targets a
// DingTalk-robot style webhook with its signed-URL scheme.
package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/quantbridge/quantbridge/internal/logger"
)

// Notifier is the outbound message sink. Implementations must be safe for
// concurrent use and must never block trading on delivery failures.
type Notifier interface {
	Send(ctx context.Context, text string)
}

// Nop discards all messages.
type Nop struct{}

// Send implements Notifier.
func (Nop) Send(context.Context, string) {}

// Webhook posts text messages to a signed robot webhook.
type Webhook struct {
	baseURL     string
	accessToken string
	secret      string
	atAll       bool
	client      *resty.Client
	log         *logger.Logger
	now         func() time.Time
}

// NewWebhook creates a webhook notifier. baseURL is the robot send endpoint
// without query parameters.
func NewWebhook(baseURL, accessToken, secret string, log *logger.Logger) *Webhook {
	return &Webhook{
		baseURL:     baseURL,
		accessToken: accessToken,
		secret:      secret,
		client:      resty.New().SetTimeout(5 * time.Second),
		log:         log,
		now:         time.Now,
	}
}

// MentionAll makes every delivered message mention the whole group.
func (w *Webhook) MentionAll() *Webhook {
	w.atAll = true

	return w
}

// signedURL builds the send URL with the millisecond timestamp and the
// base64 HMAC-SHA256 signature of "<timestamp>\n<secret>".
func (w *Webhook) signedURL() string {
	timestamp := w.now().UnixMilli()
	payload := fmt.Sprintf("%d\n%s", timestamp, w.secret)

	mac := hmac.New(sha256.New, []byte(w.secret))
	mac.Write([]byte(payload))
	sign := url.QueryEscape(base64.StdEncoding.EncodeToString(mac.Sum(nil)))

	return fmt.Sprintf("%s?access_token=%s&timestamp=%d&sign=%s", w.baseURL, w.accessToken, timestamp, sign)
}

type textMessage struct {
	MsgType string `json:"msgtype"`
	Text    struct {
		Content string `json:"content"`
	} `json:"text"`
	At struct {
		IsAtAll bool `json:"isAtAll"`
	} `json:"at"`
}

// Send implements Notifier. Delivery failures are logged and swallowed; the
// sink is observability, not control flow.
func (w *Webhook) Send(ctx context.Context, text string) {
	msg := textMessage{MsgType: "text"}
	msg.Text.Content = text
	msg.At.IsAtAll = w.atAll

	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(msg).
		Post(w.signedURL())
	if err != nil {
		w.log.Warn("notification delivery failed", zap.Error(err))

		return
	}

	if resp.IsError() {
		w.log.Warn("notification rejected",
			zap.Int("status", resp.StatusCode()),
			zap.String("body", resp.String()),
		)
	}
}
