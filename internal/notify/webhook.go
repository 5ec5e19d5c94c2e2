package notify

import (
	"context"
	"fmt"

	"resty.dev/v3"
)

// WebhookSender posts topic payloads to external HTTP targets, one URL per
// topic. It is the bridge to the user-facing notification service (email
// delivery lives behind the target, not here).
type WebhookSender struct {
	client  *resty.Client
	targets map[string]string
}

func NewWebhookSender(targets map[string]string) *WebhookSender {
	return &WebhookSender{
		client:  resty.New(),
		targets: targets,
	}
}

func (w *WebhookSender) Send(ctx context.Context, topic string, payload any) error {
	url, ok := w.targets[topic]
	if !ok || url == "" {
		return nil
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("webhook %s returned %s", url, resp.Status())
	}
	return nil
}
