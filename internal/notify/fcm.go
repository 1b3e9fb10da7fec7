package notify

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FCMConfig configures Firebase Cloud Messaging delivery. Either Topic or
// DeviceTokens must be set; both may be.
type FCMConfig struct {
	CredentialsFile string
	CredentialsJSON string
	Topic           string
	DeviceTokens    []string
	AndroidChannel  string
}

// messenger is the subset of *messaging.Client the sender uses.
type messenger interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMSender delivers push notifications through Firebase.
type FCMSender struct {
	client  messenger
	topic   string
	tokens  []string
	channel string
}

// NewFCMSender initialises a Firebase app and messaging client.
func NewFCMSender(ctx context.Context, cfg FCMConfig) (*FCMSender, error) {
	if cfg.Topic == "" && len(cfg.DeviceTokens) == 0 {
		return nil, errors.New("fcm: topic or device tokens required")
	}

	var opts []option.ClientOption
	switch {
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("fcm: init app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("fcm: messaging client: %w", err)
	}
	return newFCMSender(client, cfg), nil
}

func newFCMSender(client messenger, cfg FCMConfig) *FCMSender {
	channel := cfg.AndroidChannel
	if channel == "" {
		channel = "paperbot_trades"
	}
	return &FCMSender{
		client:  client,
		topic:   cfg.Topic,
		tokens:  cfg.DeviceTokens,
		channel: channel,
	}
}

func (f *FCMSender) android() *messaging.AndroidConfig {
	return &messaging.AndroidConfig{
		Priority: "high",
		Notification: &messaging.AndroidNotification{
			ChannelID: f.channel,
			Priority:  messaging.PriorityHigh,
		},
	}
}

// Send pushes to the topic and then to any device tokens.
func (f *FCMSender) Send(ctx context.Context, title, message string) error {
	note := &messaging.Notification{Title: title, Body: message}

	if f.topic != "" {
		if _, err := f.client.Send(ctx, &messaging.Message{
			Topic:        f.topic,
			Notification: note,
			Android:      f.android(),
		}); err != nil {
			return fmt.Errorf("fcm: send topic %s: %w", f.topic, err)
		}
	}

	if len(f.tokens) > 0 {
		resp, err := f.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens:       f.tokens,
			Notification: note,
			Android:      f.android(),
		})
		if err != nil {
			return fmt.Errorf("fcm: multicast: %w", err)
		}
		if resp != nil && resp.SuccessCount == 0 && resp.FailureCount > 0 {
			return fmt.Errorf("fcm: multicast: all %d deliveries failed", resp.FailureCount)
		}
	}
	return nil
}

// Name returns "fcm".
func (f *FCMSender) Name() string {
	return "fcm"
}
