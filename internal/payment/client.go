// Package payment предоставляет клиент платёжного провайдера и проверку его вебхуков.
package payment

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mmeshcher/courseplatform/internal/model"
)

// Ключи метаданных сессии оплаты. Провайдер возвращает их без изменений
// в вебхуках и при повторном запросе сессии.
const (
	MetadataUserID       = "userId"
	MetadataCourseID     = "courseId"
	MetadataEnrollmentID = "enrollmentId"
)

// ErrRequestFailed возвращается, если запрос к провайдеру завершился ошибкой или неуспешным статусом.
var ErrRequestFailed = fmt.Errorf("payment provider request failed: %w", model.ErrExternalService)

// SessionStatus описывает состояние сессии оплаты у провайдера.
type SessionStatus string

const (
	SessionStatusOpen     SessionStatus = "open"
	SessionStatusComplete SessionStatus = "complete"
	SessionStatusExpired  SessionStatus = "expired"
)

// PaymentStatus описывает статус оплаты внутри сессии.
type PaymentStatus string

const (
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusUnpaid            PaymentStatus = "unpaid"
	PaymentStatusNoPaymentRequired PaymentStatus = "no_payment_required"
)

// CheckoutSession описывает сессию оплаты на стороне провайдера.
type CheckoutSession struct {
	ID                string            `json:"id"`
	URL               string            `json:"url"`
	Status            SessionStatus     `json:"status"`
	PaymentStatus     PaymentStatus     `json:"payment_status"`
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          string            `json:"customer"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	Metadata          map[string]string `json:"metadata"`
	ExpiresAt         int64             `json:"expires_at"`
}

// IsPaid сообщает, подтвердил ли провайдер оплату.
func (s *CheckoutSession) IsPaid() bool {
	return s.PaymentStatus == PaymentStatusPaid || s.PaymentStatus == PaymentStatusNoPaymentRequired
}

// EnrollmentID возвращает идентификатор записи на курс из метаданных сессии.
func (s *CheckoutSession) EnrollmentID() string {
	if s.Metadata == nil {
		return ""
	}
	return s.Metadata[MetadataEnrollmentID]
}

// UserID возвращает идентификатор пользователя из метаданных сессии.
func (s *CheckoutSession) UserID() (int64, bool) {
	if s.Metadata == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(s.Metadata[MetadataUserID], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// CustomerParams содержит данные для создания клиента у провайдера.
type CustomerParams struct {
	UserID         int64
	Email          string
	Name           string
	IdempotencyKey string
}

// CheckoutParams содержит данные для создания сессии оплаты курса.
type CheckoutParams struct {
	CustomerID     string
	ReferenceID    string
	ProductName    string
	Amount         int64
	Currency       string
	Metadata       map[string]string
	SuccessURL     string
	CancelURL      string
	ExpiresAt      time.Time
	IdempotencyKey string
}

// Client инкапсулирует HTTP-взаимодействие с платёжным провайдером.
type Client struct {
	http *resty.Client
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient создаёт клиент платёжного провайдера. Каждый запрос ограничен timeout.
func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	rc := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetAuthToken(secretKey).
		SetHeader("Accept", "application/json")

	return &Client{http: rc}
}

// CreateCustomer создаёт клиента у провайдера и возвращает его идентификатор.
func (c *Client) CreateCustomer(ctx context.Context, params CustomerParams) (string, error) {
	form := map[string]string{
		"email":            params.Email,
		"name":             params.Name,
		"metadata[userId]": strconv.FormatInt(params.UserID, 10),
	}

	var result struct {
		ID string `json:"id"`
	}
	var apiErr apiError

	req := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&result).
		SetError(&apiErr)
	if params.IdempotencyKey != "" {
		req.SetHeader("Idempotency-Key", params.IdempotencyKey)
	}

	resp, err := req.Post("/v1/customers")
	if err != nil {
		return "", fmt.Errorf("%w: create customer: %w", ErrRequestFailed, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: create customer: status %d: %s", ErrRequestFailed, resp.StatusCode(), apiErr.Error.Message)
	}
	if result.ID == "" {
		return "", fmt.Errorf("%w: create customer: empty id", ErrRequestFailed)
	}

	return result.ID, nil
}

// CreateCheckoutSession создаёт размещённую у провайдера сессию оплаты.
func (c *Client) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	form := map[string]string{
		"mode":                "payment",
		"success_url":         params.SuccessURL,
		"cancel_url":          params.CancelURL,
		"client_reference_id": params.ReferenceID,

		"line_items[0][price_data][currency]":           params.Currency,
		"line_items[0][price_data][unit_amount]":        strconv.FormatInt(params.Amount, 10),
		"line_items[0][price_data][product_data][name]": params.ProductName,
		"line_items[0][quantity]":                       "1",
	}
	if params.CustomerID != "" {
		form["customer"] = params.CustomerID
	}
	if !params.ExpiresAt.IsZero() {
		form["expires_at"] = strconv.FormatInt(params.ExpiresAt.Unix(), 10)
	}
	for k, v := range params.Metadata {
		form["metadata["+k+"]"] = v
	}

	var session CheckoutSession
	var apiErr apiError

	req := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&session).
		SetError(&apiErr)
	if params.IdempotencyKey != "" {
		req.SetHeader("Idempotency-Key", params.IdempotencyKey)
	}

	resp, err := req.Post("/v1/checkout/sessions")
	if err != nil {
		return nil, fmt.Errorf("%w: create checkout session: %w", ErrRequestFailed, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: create checkout session: status %d: %s", ErrRequestFailed, resp.StatusCode(), apiErr.Error.Message)
	}
	if session.ID == "" || session.URL == "" {
		return nil, fmt.Errorf("%w: create checkout session: incomplete response", ErrRequestFailed)
	}

	return &session, nil
}

// GetCheckoutSession запрашивает актуальное состояние сессии оплаты.
func (c *Client) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	var session CheckoutSession
	var apiErr apiError

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&session).
		SetError(&apiErr).
		Get("/v1/checkout/sessions/" + url.PathEscape(id))
	if err != nil {
		return nil, fmt.Errorf("%w: get checkout session: %w", ErrRequestFailed, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: get checkout session: status %d: %s", ErrRequestFailed, resp.StatusCode(), apiErr.Error.Message)
	}

	return &session, nil
}
