package notify

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

const (
	webIcon  = "/icons/icon-192x192.png"
	webBadge = "/icons/icon-72x72.png"
)

type fcmClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMProvider delivers notifications through Firebase Cloud Messaging.
type FCMProvider struct {
	client fcmClient
}

// NewFCMProvider initialises a Firebase app for projectID. An empty
// credentialsFile falls back to application default credentials.
func NewFCMProvider(ctx context.Context, projectID, credentialsFile string) (*FCMProvider, error) {
	opts := make([]option.ClientOption, 0, 1)
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}
	return &FCMProvider{client: client}, nil
}

// Send implements Provider.
func (p *FCMProvider) Send(ctx context.Context, msg Message) (string, error) {
	message := &messaging.Message{
		Token:        msg.Token,
		Notification: &messaging.Notification{Title: msg.Title, Body: msg.Body},
		Data:         msg.Data,
		Webpush:      webpushConfig(msg.Notification),
		Android:      androidConfig(msg.Data["type"]),
		APNS:         apnsConfig(),
	}
	id, err := p.client.Send(ctx, message)
	if err != nil {
		return "", classify(err)
	}
	return id, nil
}

// SendMulticast implements Provider.
func (p *FCMProvider) SendMulticast(ctx context.Context, msg Multicast) (BatchResult, error) {
	message := &messaging.MulticastMessage{
		Tokens:       msg.Tokens,
		Notification: &messaging.Notification{Title: msg.Title, Body: msg.Body},
		Data:         msg.Data,
		Webpush:      webpushConfig(msg.Notification),
		Android:      androidConfig(msg.Data["type"]),
		APNS:         apnsConfig(),
	}
	resp, err := p.client.SendEachForMulticast(ctx, message)
	if err != nil {
		return BatchResult{}, fmt.Errorf("fcm multicast: %w", err)
	}

	result := BatchResult{
		SuccessCount: resp.SuccessCount,
		FailureCount: resp.FailureCount,
		Responses:    make([]RecipientResult, 0, len(resp.Responses)),
	}
	for i, r := range resp.Responses {
		rr := RecipientResult{Token: msg.Tokens[i]}
		if r.Success {
			rr.MessageID = r.MessageID
		} else {
			rr.Err = classify(r.Error)
		}
		result.Responses = append(result.Responses, rr)
	}
	return result, nil
}

func classify(err error) error {
	if err == nil {
		return fmt.Errorf("fcm: unknown failure")
	}
	if messaging.IsUnregistered(err) {
		return fmt.Errorf("%w: %v", ErrTokenUnregistered, err)
	}
	return err
}

func webpushConfig(n Notification) *messaging.WebpushConfig {
	cfg := &messaging.WebpushConfig{
		Notification: &messaging.WebpushNotification{
			Title:              n.Title,
			Body:               n.Body,
			Icon:               webIcon,
			Badge:              webBadge,
			RequireInteraction: true,
			Tag:                n.Data["type"],
		},
	}
	if n.Link != "" {
		cfg.FCMOptions = &messaging.WebpushFCMOptions{Link: n.Link}
	}
	return cfg
}

type androidChannel struct {
	id    string
	color string
}

var androidChannels = map[string]androidChannel{
	KindDailyReminder:   {id: "exercise_reminders", color: "#2563eb"},
	KindGoalAchievement: {id: "achievements", color: "#16a34a"},
	KindPenaltyWarning:  {id: "warnings", color: "#dc2626"},
}

func androidConfig(kind string) *messaging.AndroidConfig {
	channel, ok := androidChannels[kind]
	if !ok {
		channel = androidChannel{id: "exercise_notifications", color: "#3B82F6"}
	}
	return &messaging.AndroidConfig{
		Priority: "high",
		Notification: &messaging.AndroidNotification{
			Icon:      "ic_notification",
			Color:     channel.color,
			ChannelID: channel.id,
		},
	}
}

func apnsConfig() *messaging.APNSConfig {
	badge := 1
	return &messaging.APNSConfig{
		Payload: &messaging.APNSPayload{
			Aps: &messaging.Aps{Badge: &badge, Sound: "default"},
		},
	}
}
