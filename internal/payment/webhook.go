package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/courseplatform/internal/model"
)

// SignatureHeader содержит подпись тела вебхука.
const SignatureHeader = "Stripe-Signature"

const defaultTolerance = 5 * time.Minute

// Типы событий провайдера, которые обрабатывает платформа.
const (
	EventCheckoutCompleted      = "checkout.session.completed"
	EventCheckoutExpired        = "checkout.session.expired"
	EventCheckoutAsyncSucceeded = "checkout.session.async_payment_succeeded"
	EventCheckoutAsyncFailed    = "checkout.session.async_payment_failed"
)

var (
	// ErrInvalidSignature возвращается, если подпись вебхука отсутствует, устарела или не совпадает.
	ErrInvalidSignature = fmt.Errorf("invalid webhook signature: %w", model.ErrValidation)
	// ErrInvalidPayload возвращается, если тело вебхука не удалось разобрать.
	ErrInvalidPayload = fmt.Errorf("invalid webhook payload: %w", model.ErrValidation)
)

// Event описывает событие провайдера. Session заполнена только для событий сессии оплаты.
type Event struct {
	ID      string
	Type    string
	Created time.Time
	Session *CheckoutSession
}

type rawEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// WebhookVerifier проверяет подпись вебхуков провайдера общим секретом.
type WebhookVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewWebhookVerifier создаёт проверку подписи. С пустым секретом любая подпись считается недействительной.
func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{
		secret:    []byte(strings.TrimSpace(secret)),
		tolerance: defaultTolerance,
		now:       time.Now,
	}
}

// ConstructEvent проверяет подпись и разбирает тело вебхука.
func (v *WebhookVerifier) ConstructEvent(payload []byte, signature string) (*Event, error) {
	if err := v.Verify(payload, signature); err != nil {
		return nil, err
	}
	return ParseEvent(payload)
}

// Verify проверяет заголовок подписи вида "t=<unix>,v1=<hex>".
func (v *WebhookVerifier) Verify(payload []byte, signature string) error {
	if len(v.secret) == 0 {
		return ErrInvalidSignature
	}

	ts, signatures, ok := parseSignatureHeader(signature)
	if !ok {
		return ErrInvalidSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	age := v.now().Sub(time.Unix(unix, 0))
	if age > v.tolerance || age < -v.tolerance {
		return ErrInvalidSignature
	}

	expected := computeSignature(v.secret, ts, payload)
	for _, s := range signatures {
		if hmac.Equal([]byte(s), []byte(expected)) {
			return nil
		}
	}

	return ErrInvalidSignature
}

// ParseEvent разбирает тело вебхука без проверки подписи.
func ParseEvent(payload []byte) (*Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, ErrInvalidPayload
	}
	if strings.TrimSpace(raw.ID) == "" || strings.TrimSpace(raw.Type) == "" {
		return nil, ErrInvalidPayload
	}

	event := &Event{
		ID:      raw.ID,
		Type:    raw.Type,
		Created: time.Unix(raw.Created, 0).UTC(),
	}

	if strings.HasPrefix(raw.Type, "checkout.session.") {
		var session CheckoutSession
		if err := json.Unmarshal(raw.Data.Object, &session); err != nil {
			return nil, ErrInvalidPayload
		}
		event.Session = &session
	}

	return event, nil
}

// SignPayload формирует заголовок подписи для тела вебхука.
func SignPayload(secret string, payload []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + computeSignature([]byte(secret), ts, payload)
}

func computeSignature(secret []byte, ts string, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(header string) (string, []string, bool) {
	var ts string
	var signatures []string

	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch strings.TrimSpace(key) {
		case "t":
			ts = strings.TrimSpace(value)
		case "v1":
			signatures = append(signatures, strings.TrimSpace(value))
		}
	}

	if ts == "" || len(signatures) == 0 {
		return "", nil, false
	}
	return ts, signatures, true
}
