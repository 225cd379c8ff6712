// Package email sends transactional mail over SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// Config holds SMTP connection settings.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

func NewService(config Config) *Service {
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   smtp.PlainAuth("", config.Username, config.Password, config.Host),
	}
}

// IsConfigured reports whether enough SMTP settings are present to send.
// Safe on a nil receiver so callers can hold an optional service.
func (s *Service) IsConfigured() bool {
	return s != nil && s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) fromHeader() string {
	if s.config.FromName != "" {
		return fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	return s.config.From
}

const mimeBoundary = "rfphub-mail-boundary"

// buildMessage assembles a multipart/alternative message with a plain-text
// fallback part ahead of the HTML part.
func buildMessage(to []string, from, subject, htmlBody string) []byte {
	var msg bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&msg, "%s: %s\r\n", k, v) }

	header("To", strings.Join(to, ", "))
	header("From", from)
	header("Subject", subject)
	header("MIME-Version", "1.0")
	header("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", mimeBoundary))
	msg.WriteString("\r\n")

	part := func(contentType, body string) {
		fmt.Fprintf(&msg, "--%s\r\n", mimeBoundary)
		header("Content-Type", contentType)
		msg.WriteString("\r\n")
		msg.WriteString(body)
		msg.WriteString("\r\n\r\n")
	}
	part("text/plain; charset=UTF-8", "Please view this email in an HTML-capable email client.")
	part("text/html; charset=UTF-8", htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", mimeBoundary)

	return msg.Bytes()
}

// SendHTMLEmail sends a multipart email with an HTML body.
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	msg := buildMessage(to, s.fromHeader(), subject, htmlBody)
	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg)
}

// VerificationData feeds the account-verification template.
type VerificationData struct {
	AppName         string
	UserName        string
	VerificationURL string
}

// SendVerificationEmail sends the account-verification email.
func (s *Service) SendVerificationEmail(to, userName, verificationURL string) error {
	html, err := renderTemplate(verificationEmailTemplate, VerificationData{
		AppName:         "RFP Hub",
		UserName:        userName,
		VerificationURL: verificationURL,
	})
	if err != nil {
		return fmt.Errorf("render verification template: %w", err)
	}
	return s.SendHTMLEmail([]string{to}, "Verify your RFP Hub account", html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const verificationEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Verify your {{.AppName}} account</title>
    <style>
        body { font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; line-height: 1.5; color: #1f2933; max-width: 560px; margin: 0 auto; padding: 24px; }
        h1 { font-size: 20px; border-bottom: 2px solid #14532d; padding-bottom: 8px; }
        .cta { display: inline-block; padding: 12px 28px; background: #14532d; color: #fff; text-decoration: none; border-radius: 4px; margin: 16px 0; }
        .raw-link { word-break: break-all; color: #14532d; font-size: 13px; }
        .fineprint { margin-top: 28px; border-top: 1px solid #e5e7eb; padding-top: 16px; font-size: 12px; color: #6b7280; }
    </style>
</head>
<body>
    <h1>{{.AppName}}</h1>
    <p>Hi {{.UserName}},</p>
    <p>Confirm your email address to start building templates and collateral.</p>
    <p><a href="{{.VerificationURL}}" class="cta">Verify Email Address</a></p>
    <p>Or paste this link into your browser:</p>
    <p class="raw-link">{{.VerificationURL}}</p>
    <p>The link expires in 24 hours.</p>
    <div class="fineprint">
        <p>If you didn't sign up for {{.AppName}}, ignore this email.</p>
    </div>
</body>
</html>`
