package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrMissingAPIKey   = errors.New("payment api key is not configured")
)

// APIError is a non-2xx answer from the provider other than 404.
type APIError struct {
	StatusCode int
	Title      string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("payment api status %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("payment api status %d", e.StatusCode)
}

type Client struct {
	baseURL  string
	apiKey   string
	currency string
	client   *http.Client
}

func NewClient(baseURL, apiKey, currency string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if currency == "" {
		currency = "EUR"
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		currency: currency,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *Client) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error) {
	body := createPaymentBody{
		Amount:      amount{Currency: c.currency, Value: req.Amount.StringFixed(2)},
		Description: req.Description,
		RedirectURL: req.RedirectURL,
		WebhookURL:  req.WebhookURL,
		Metadata:    Metadata{OrderID: req.OrderID},
	}
	var resp paymentResponse
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/payments", body, &resp); err != nil {
		return nil, err
	}
	return resp.toPayment()
}

func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, ErrPaymentNotFound
	}
	var resp paymentResponse
	endpoint := c.baseURL + "/payments/" + url.PathEscape(paymentID)
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return resp.toPayment()
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, in, out any) error {
	if c.apiKey == "" {
		return ErrMissingAPIKey
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("payment api %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrPaymentNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var problem struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		}
		if json.Unmarshal(raw, &problem) == nil && (problem.Title != "" || problem.Detail != "") {
			apiErr.Title = problem.Title
			apiErr.Detail = problem.Detail
		} else {
			apiErr.Detail = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// API request/response types

type amount struct {
	Currency string `json:"currency"`
	Value    string `json:"value"`
}

type createPaymentBody struct {
	Amount      amount   `json:"amount"`
	Description string   `json:"description"`
	RedirectURL string   `json:"redirectUrl,omitempty"`
	WebhookURL  string   `json:"webhookUrl,omitempty"`
	Metadata    Metadata `json:"metadata"`
}

type paymentResponse struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Amount   amount          `json:"amount"`
	Metadata json.RawMessage `json:"metadata"`
	Links    struct {
		Checkout *struct {
			Href string `json:"href"`
		} `json:"checkout"`
	} `json:"_links"`
}

func (r paymentResponse) toPayment() (*Payment, error) {
	p := &Payment{
		ID:     r.ID,
		Status: Status(r.Status),
	}
	if r.Amount.Value != "" {
		v, err := decimal.NewFromString(r.Amount.Value)
		if err != nil {
			return nil, fmt.Errorf("parse payment amount %q: %w", r.Amount.Value, err)
		}
		p.Amount = v
		p.Currency = r.Amount.Currency
	}
	// metadata is free-form on the provider side; anything but an object
	// simply carries no order reference.
	if len(r.Metadata) > 0 {
		_ = json.Unmarshal(r.Metadata, &p.Metadata)
	}
	if r.Links.Checkout != nil {
		p.CheckoutURL = r.Links.Checkout.Href
	}
	return p, nil
}
