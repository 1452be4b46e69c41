package httpapi

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/evidentia/syncplatform/domain/distribution"
	"github.com/evidentia/syncplatform/infrastructure/eventbus"
)

// NewDistributionSender builds the Sender the export outbox dispatches
// through: webhook sinks get an HMAC-signed HTTP POST, topic sinks publish
// onto bus via Postgres NOTIFY, matching distribution's own doc comment
// that it sits on top of infrastructure/eventbus for topic fan-out.
func NewDistributionSender(client *http.Client, bus *eventbus.Bus) distribution.Sender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return func(sink distribution.Sink, event distribution.Event) error {
		if !sink.Enabled {
			return fmt.Errorf("distribution sender: sink %s disabled", sink.ID)
		}
		switch sink.Kind {
		case distribution.SinkTopic:
			if bus == nil {
				return fmt.Errorf("distribution sender: no event bus configured for topic sink %s", sink.ID)
			}
			return bus.Publish(context.Background(), sink.Target, struct {
				EventID string `json:"eventId"`
				SinkID  string `json:"sinkId"`
				Payload []byte `json:"payload"`
			}{EventID: event.ID, SinkID: sink.ID, Payload: event.Payload})
		case distribution.SinkWebhook:
			return deliverWebhook(client, sink, event)
		default:
			return fmt.Errorf("distribution sender: unknown sink kind %q", sink.Kind)
		}
	}
}

func deliverWebhook(client *http.Client, sink distribution.Sink, event distribution.Event) error {
	req, err := http.NewRequest(http.MethodPost, sink.Target, bytes.NewReader(event.Payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if sink.Secret != "" {
		req.Header.Set("X-Signature", distribution.SignWebhook(sink.Secret, event.Payload))
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("distribution sender: webhook %s returned %d", sink.ID, resp.StatusCode)
	}
	return nil
}
