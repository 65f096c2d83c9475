package provider

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const (
	sendGridEndpoint      = "/v3/mail/send"
	sendGridMessageHeader = "X-Message-Id"
)

// SendGridProvider sends through the SendGrid v3 mail API.
type SendGridProvider struct {
	apiKey string
	host   string
	client *rest.Client
}

func NewSendGrid(apiKey, host string, timeout time.Duration) *SendGridProvider {
	if host == "" {
		host = "https://api.sendgrid.com"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SendGridProvider{
		apiKey: apiKey,
		host:   strings.TrimRight(host, "/"),
		client: &rest.Client{HTTPClient: &http.Client{Timeout: timeout}},
	}
}

func (p *SendGridProvider) Name() string { return "sendgrid" }

func (p *SendGridProvider) Send(ctx context.Context, msg Message) (SendResult, error) {
	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(msg.FromName, msg.From))
	m.Subject = msg.Subject

	personalization := mail.NewPersonalization()
	personalization.AddTos(mail.NewEmail("", msg.To))
	if msg.LogID != "" {
		personalization.SetCustomArg(LogIDCustomArg, msg.LogID)
	}
	m.AddPersonalizations(personalization)
	m.AddContent(mail.NewContent("text/html", msg.HTML))

	req := sendgrid.GetRequest(p.apiKey, sendGridEndpoint, p.host)
	req.Method = rest.Post
	req.Body = mail.GetRequestBody(m)

	resp, err := p.client.SendWithContext(ctx, req)
	if err != nil {
		return SendResult{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SendResult{StatusCode: resp.StatusCode}, &Error{
			Provider:   p.Name(),
			StatusCode: resp.StatusCode,
			Body:       resp.Body,
		}
	}
	return SendResult{
		StatusCode: resp.StatusCode,
		MessageID:  strings.TrimSpace(http.Header(resp.Headers).Get(sendGridMessageHeader)),
	}, nil
}

var _ Provider = (*SendGridProvider)(nil)
