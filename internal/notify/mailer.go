package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	htmltemplate "html/template"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNoRecipient = errors.New("confirmation has no recipient address")

type MailerConfig struct {
	BaseURL  string
	APIKey   string
	From     string
	ShopName string
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Mailer posts messages to a Resend-compatible /emails endpoint. Each call
// is a single attempt.
type Mailer struct {
	baseURL  string
	apiKey   string
	from     string
	shopName string
	client   *http.Client
	logger   *slog.Logger
}

func NewMailer(cfg MailerConfig) *Mailer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.resend.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Mailer{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		from:     cfg.From,
		shopName: cfg.ShopName,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   cfg.Logger,
	}
}

type sendEmailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

func (m *Mailer) SendOrderConfirmation(ctx context.Context, c Confirmation) error {
	if strings.TrimSpace(c.CustomerEmail) == "" {
		return &DeliveryError{Err: ErrNoRecipient}
	}

	view := newConfirmationView(m.shopName, c)
	var html, text bytes.Buffer
	if err := confirmationHTML.Execute(&html, view); err != nil {
		return &DeliveryError{To: c.CustomerEmail, Err: err}
	}
	if err := confirmationText.Execute(&text, view); err != nil {
		return &DeliveryError{To: c.CustomerEmail, Err: err}
	}

	body, err := json.Marshal(sendEmailRequest{
		From:    m.from,
		To:      []string{c.CustomerEmail},
		Subject: "Your order " + c.OrderNumber + " is confirmed",
		HTML:    html.String(),
		Text:    text.String(),
	})
	if err != nil {
		return &DeliveryError{To: c.CustomerEmail, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{To: c.CustomerEmail, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return &DeliveryError{To: c.CustomerEmail, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &DeliveryError{To: c.CustomerEmail, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}

	var sent struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &sent)
	m.logger.InfoContext(ctx, "order confirmation sent", "order_number", c.OrderNumber, "message_id", sent.ID)
	return nil
}

type confirmationView struct {
	ShopName     string
	OrderNumber  string
	CustomerName string
	PickupTime   string
	Total        string
	PointsEarned int64
	Items        []itemView
}

type itemView struct {
	Name           string
	Quantity       int
	LineTotal      string
	Customizations string
}

func newConfirmationView(shopName string, c Confirmation) confirmationView {
	v := confirmationView{
		ShopName:     shopName,
		OrderNumber:  c.OrderNumber,
		CustomerName: c.CustomerName,
		PickupTime:   c.PickupTime.Format("Mon 2 Jan 15:04"),
		Total:        "€" + c.Total.StringFixed(2),
		PointsEarned: c.PointsEarned,
	}
	for _, it := range c.Items {
		v.Items = append(v.Items, itemView{
			Name:           it.Name,
			Quantity:       it.Quantity,
			LineTotal:      "€" + it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))).StringFixed(2),
			Customizations: strings.Join(it.Customizations, ", "),
		})
	}
	return v
}

var confirmationHTML = htmltemplate.Must(htmltemplate.New("confirmation.html").Parse(`<h1>Thanks {{.CustomerName}}!</h1>
<p>Your order <strong>{{.OrderNumber}}</strong> at {{.ShopName}} is paid and will be ready for pickup at {{.PickupTime}}.</p>
<table>
{{range .Items}}<tr><td>{{.Quantity}}× {{.Name}}{{if .Customizations}}<br><small>{{.Customizations}}</small>{{end}}</td><td>{{.LineTotal}}</td></tr>
{{end}}<tr><td><strong>Total</strong></td><td><strong>{{.Total}}</strong></td></tr>
</table>
{{if gt .PointsEarned 0}}<p>You earned {{.PointsEarned}} loyalty points with this order.</p>{{end}}
`))

var confirmationText = template.Must(template.New("confirmation.txt").Parse(`Thanks {{.CustomerName}}!

Your order {{.OrderNumber}} at {{.ShopName}} is paid and will be ready for pickup at {{.PickupTime}}.

{{range .Items}}{{.Quantity}}x {{.Name}}{{if .Customizations}} ({{.Customizations}}){{end}}  {{.LineTotal}}
{{end}}
Total: {{.Total}}
{{if gt .PointsEarned 0}}
You earned {{.PointsEarned}} loyalty points with this order.
{{end}}`))
