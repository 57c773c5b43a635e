// README: Push gateway backed by Firebase Cloud Messaging multicast.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"fleetwatch/internal/logging"
)

// Gateway delivers one message to a batch of device tokens.
type Gateway interface {
	Send(ctx context.Context, tokens []string, msg Message) error
}

// MaxMulticastTokens is the FCM limit for a single multicast request.
const MaxMulticastTokens = 500

// multicastClient is the subset of *messaging.Client the gateway uses.
type multicastClient interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type FCMGateway struct {
	client multicastClient
	logger *slog.Logger
}

func NewFCMGateway(client *messaging.Client, logger *slog.Logger) *FCMGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &FCMGateway{client: client, logger: logger}
}

// Send fans the message out in chunks of MaxMulticastTokens. Per-token
// failures are logged; an error is returned only when no token succeeded.
func (g *FCMGateway) Send(ctx context.Context, tokens []string, msg Message) error {
	if len(tokens) == 0 {
		return nil
	}

	sent, failed := 0, 0
	var lastErr error
	for start := 0; start < len(tokens); start += MaxMulticastTokens {
		end := min(start+MaxMulticastTokens, len(tokens))
		chunk := tokens[start:end]

		resp, err := g.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens: chunk,
			Data:   msg.Data,
			Notification: &messaging.Notification{
				Title: msg.Title,
				Body:  msg.Body,
			},
			Android: &messaging.AndroidConfig{Priority: "high"},
		})
		if err != nil {
			failed += len(chunk)
			lastErr = err
			continue
		}
		sent += resp.SuccessCount
		failed += resp.FailureCount
		for i, r := range resp.Responses {
			if r != nil && !r.Success && i < len(chunk) {
				lastErr = r.Error
				g.logger.Warn("fcm token rejected", slog.Int("index", start+i), slog.Any("error", r.Error))
			}
		}
	}

	logging.LogOperation(g.logger, "fcm_multicast",
		slog.Int("tokens", len(tokens)),
		slog.Int("sent", sent),
		slog.Int("failed", failed),
	)
	if sent == 0 {
		if lastErr == nil {
			lastErr = errors.New("no tokens accepted")
		}
		return fmt.Errorf("fcm multicast: %w", lastErr)
	}
	return nil
}
