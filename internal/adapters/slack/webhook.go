package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/okJiang/jira-test-reporter/internal/domain"
	"github.com/okJiang/jira-test-reporter/internal/sanitize"
)

// DeliveryError is returned when the webhook answers with a non-2xx status.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("slack webhook rejected message: %d %s", e.StatusCode, e.Body)
}

// Webhook posts Block Kit messages to incoming-webhook URLs.
type Webhook struct {
	http *http.Client
}

func NewWebhook(timeout time.Duration) *Webhook {
	return &Webhook{http: &http.Client{Timeout: timeout}}
}

func NewWebhookWithTransport(timeout time.Duration, rt http.RoundTripper) *Webhook {
	return &Webhook{http: &http.Client{Timeout: timeout, Transport: rt}}
}

// Post sends msg once; webhook posts are not retried.
func (w *Webhook) Post(ctx context.Context, endpoint string, msg domain.Message) error {
	if endpoint == "" {
		return errors.New("slack webhook url is empty")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode slack message")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build slack request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Wrap(ctxErr, "post slack message")
		}
		// the transport error embeds the hook url
		return errors.New(sanitize.Scrub(err.Error()))
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	log.Info("Slack notification sent!")
	return nil
}
