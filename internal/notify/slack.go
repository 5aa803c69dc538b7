// Package notify implements the ingestion notifier of spec §4.9: on
// start and completion, post a text message to a configured chat-channel
// webhook. A failed post is logged but never fails the ingestion command.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"time"

	"github.com/redbco/ddfserver/pkg/config"
	"github.com/redbco/ddfserver/pkg/logger"
)

// Notifier posts a single text message, tolerating delivery failure.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// Webhook posts to a Slack-compatible incoming-webhook URL.
type Webhook struct {
	url        string
	httpClient *http.Client
	logger     *logger.Logger
	elevate    bool
}

// NewFromConfig builds a Webhook notifier from SLACK_CHANNEL_URL (spec
// §6). If the URL is unset, NewFromConfig returns a NoopNotifier so
// ingestion never depends on notification being configured.
func NewFromConfig(cfg *config.Config, log *logger.Logger) Notifier {
	url := cfg.Get("SLACK_CHANNEL_URL")
	if url == "" {
		return NoopNotifier{}
	}
	return &Webhook{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig:     &tls.Config{InsecureSkipVerify: false},
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger:  log,
		elevate: cfg.Bool("NOTIFY_ELEVATE_LOG"),
	}
}

type slackPayload struct {
	Text string `json:"text"`
}

// Notify posts message to the webhook. Failures are logged at a level
// that can be elevated above the ingestion command's normal chatter
// (NOTIFY_ELEVATE_LOG) but never propagate to the caller.
func (w *Webhook) Notify(ctx context.Context, message string) {
	body, err := json.Marshal(slackPayload{Text: message})
	if err != nil {
		w.logger.Warnf("notify: failed to encode payload: %v", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.logger.Warnf("notify: failed to build request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		w.log("notify: webhook post failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		w.log("notify: webhook responded with status %d", resp.StatusCode)
		return
	}
	if w.elevate {
		w.logger.Infof("notify: delivered %q", message)
	}
}

func (w *Webhook) log(format string, args ...interface{}) {
	if w.elevate {
		w.logger.Errorf(format, args...)
		return
	}
	w.logger.Warnf(format, args...)
}

// NoopNotifier discards every message, used when no webhook is configured.
type NoopNotifier struct{}

func (NoopNotifier) Notify(ctx context.Context, message string) {}
