// Package notify sends a web push alert for each event due today, once.
package notify

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/dukerupert/chefagenda/internal/model"
)

// ErrInvalidKeys is returned by ValidateKeys.
var ErrInvalidKeys = errors.New("invalid subscription keys")

// ErrExpired is returned when the push service no longer knows the
// subscription (404 or 410).
var ErrExpired = errors.New("push subscription expired")

// Alerts stay queued at the push service for a day; a due-today alert is
// useless after that.
const alertTTL = 24 * 60 * 60

// Payload is the JSON the service worker receives.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`

	Urgency webpush.Urgency `json:"-"`
}

// EventPayload builds the due-today alert for ev. Critical logistics steps
// are delivered with high urgency so battery savers do not hold them back.
func EventPayload(ev model.CalendarEvent) Payload {
	p := Payload{
		Title:   ev.Title,
		Body:    body(ev),
		URL:     "/#/calendar",
		Tag:     "event-" + ev.ID,
		Urgency: webpush.UrgencyNormal,
	}
	switch ev.Type {
	case model.TypeAutoCritical, model.TypeAutoAlarm:
		p.Urgency = webpush.UrgencyHigh
	case model.TypeReminder:
		p.Urgency = webpush.UrgencyLow
	}
	return p
}

func body(ev model.CalendarEvent) string {
	switch {
	case ev.Notes != "" && ev.Time != "":
		return ev.Time + " · " + ev.Notes
	case ev.Notes != "":
		return ev.Notes
	case ev.Time != "":
		return "Hoy a las " + ev.Time
	}
	return "Hoy"
}

// Service signs and delivers web push messages with a VAPID key pair.
type Service struct {
	publicKey  string
	privateKey string
	subscriber string
	client     webpush.HTTPClient
}

// NewService returns nil when either key is missing, which disables
// notifications.
func NewService(publicKey, privateKey, subscriber string) *Service {
	if publicKey == "" || privateKey == "" {
		return nil
	}
	if subscriber == "" {
		subscriber = "mailto:noreply@chefagenda.local"
	}
	return &Service{
		publicKey:  publicKey,
		privateKey: privateKey,
		subscriber: subscriber,
		client:     http.DefaultClient,
	}
}

// VAPIDPublicKey is handed to browsers when they subscribe. It is empty on
// a nil Service.
func (s *Service) VAPIDPublicKey() string {
	if s == nil {
		return ""
	}
	return s.publicKey
}

// Send encrypts payload for sub and posts it to the subscription endpoint.
func (s *Service) Send(sub *model.PushSubscription, payload Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	urgency := payload.Urgency
	if urgency == "" {
		urgency = webpush.UrgencyNormal
	}

	resp, err := webpush.SendNotification(data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             alertTTL,
		Urgency:         urgency,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		return ErrExpired
	case resp.StatusCode >= 400:
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}
	return nil
}

// ValidateKeys checks the keys a browser hands out with a subscription: an
// uncompressed P-256 point and a 16 byte auth secret, base64url encoded.
func ValidateKeys(p256dh, auth string) error {
	point, err := decodeKey(p256dh)
	if err != nil {
		return fmt.Errorf("%w: p256dh: %w", ErrInvalidKeys, err)
	}
	if _, err := ecdh.P256().NewPublicKey(point); err != nil {
		return fmt.Errorf("%w: p256dh: %w", ErrInvalidKeys, err)
	}
	secret, err := decodeKey(auth)
	if err != nil {
		return fmt.Errorf("%w: auth: %w", ErrInvalidKeys, err)
	}
	if len(secret) != 16 {
		return fmt.Errorf("%w: auth secret is %d bytes, want 16", ErrInvalidKeys, len(secret))
	}
	return nil
}

// decodeKey accepts base64url with or without padding; some browsers send
// standard base64.
func decodeKey(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// GenerateVAPIDKeys returns a new P-256 key pair, both halves base64url
// encoded without padding: the public key as an uncompressed point and the
// private key as the raw scalar.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate P-256 key: %w", err)
	}
	publicKey = base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes())
	privateKey = base64.RawURLEncoding.EncodeToString(key.Bytes())
	return publicKey, privateKey, nil
}
