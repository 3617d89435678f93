// Package email delivers lifecycle notifications via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// Kind selects the notification template.
type Kind string

const (
	KindPIRRequested    Kind = "pir_requested"
	KindPIRSubmitted    Kind = "pir_submitted"
	KindPIRReviewed     Kind = "pir_reviewed"
	KindPIRAccepted     Kind = "pir_accepted"
	KindPIRRejected     Kind = "pir_rejected"
	KindQuestionCreated Kind = "question_created"
	KindAnswerCreated   Kind = "answer_created"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

// NewService creates a new email service
func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// Send renders the template for the kind and delivers it to all recipients
// in a single message.
func (s *Service) Send(recipients []string, kind Kind, payload map[string]any) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients")
	}

	subject, ok := subjects[kind]
	if !ok {
		return fmt.Errorf("unknown notification kind %q", kind)
	}
	if title, ok := payload["pirTitle"].(string); ok && title != "" {
		subject = subject + ": " + title
	}

	body, err := renderBody(kind, payload)
	if err != nil {
		return fmt.Errorf("render %s template: %w", kind, err)
	}
	return s.sendHTML(recipients, subject, body)
}

var subjects = map[Kind]string{
	KindPIRRequested:    "PIR ready for response",
	KindPIRSubmitted:    "PIR submitted for review",
	KindPIRReviewed:     "PIR review started",
	KindPIRAccepted:     "PIR accepted",
	KindPIRRejected:     "PIR rejected",
	KindQuestionCreated: "New question on PIR",
	KindAnswerCreated:   "New answer on PIR",
}

var leads = map[Kind]string{
	KindPIRRequested:    "A product information request has been assigned and is ready for your response.",
	KindPIRSubmitted:    "A product information request has been submitted and awaits review.",
	KindPIRReviewed:     "A reviewer has started working on your product information request.",
	KindPIRAccepted:     "Your product information request has been accepted.",
	KindPIRRejected:     "Your product information request has been rejected.",
	KindQuestionCreated: "A new question was added to a product information request assigned to you.",
	KindAnswerCreated:   "A new answer was posted on your product information request.",
}

func renderBody(kind Kind, payload map[string]any) (string, error) {
	data := map[string]any{
		"AppName": "PIRHub",
		"Lead":    leads[kind],
		"Payload": payload,
	}
	t := template.Must(template.New("notification").Parse(notificationTemplate))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (s *Service) sendHTML(to []string, subject, htmlBody string) error {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-pirhub"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	// Plain text part (fallback)
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	// HTML part
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

const notificationTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.AppName}} notification</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .detail { background: #f6f8fa; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .detail td { padding: 2px 12px 2px 0; color: #555; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>{{.Lead}}</p>

    <div class="detail">
        <table>
        {{if .Payload.pirTitle}}<tr><td>Request</td><td><strong>{{.Payload.pirTitle}}</strong></td></tr>{{end}}
        {{if .Payload.productName}}<tr><td>Product</td><td>{{.Payload.productName}}</td></tr>{{end}}
        {{if .Payload.status}}<tr><td>Status</td><td>{{.Payload.status}}</td></tr>{{end}}
        {{if .Payload.actorName}}<tr><td>By</td><td>{{.Payload.actorName}}</td></tr>{{end}}
        {{if .Payload.questionText}}<tr><td>Question</td><td>{{.Payload.questionText}}</td></tr>{{end}}
        {{if .Payload.answerText}}<tr><td>Answer</td><td>{{.Payload.answerText}}</td></tr>{{end}}
        {{if .Payload.reviewNotes}}<tr><td>Review notes</td><td>{{.Payload.reviewNotes}}</td></tr>{{end}}
        </table>
    </div>

    <div class="footer">
        <p>You are receiving this because you participate in this product information request.</p>
    </div>
</body>
</html>`
