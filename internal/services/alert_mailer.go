package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"entitlement-api/internal/config"
	"entitlement-api/pkg/logging"
)

// AlertMailer sends operator alert emails through the Brevo transactional
// API. Implements Alerter.
type AlertMailer struct {
	apiKey     string
	fromEmail  string
	alertEmail string
	httpClient *http.Client
}

// NewAlertMailer creates an alert mailer from the app configuration.
func NewAlertMailer() *AlertMailer {
	return &AlertMailer{
		apiKey:     config.AppConfig.BrevoAPIKey,
		fromEmail:  config.AppConfig.BrevoFromEmail,
		alertEmail: config.AppConfig.AlertEmail,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// emailRequest represents a Brevo email request
type emailRequest struct {
	Sender      emailAddress   `json:"sender"`
	To          []emailAddress `json:"to"`
	Subject     string         `json:"subject"`
	TextContent string         `json:"textContent"`
}

type emailAddress struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// AckOverdue emails the operator about an acknowledgment that exceeded its
// retry budget. The purchase will be auto-refunded by the platform if nobody
// intervenes.
func (m *AlertMailer) AckOverdue(lineageID, productID string, attempts int, lastErr error) {
	if m.apiKey == "" || m.alertEmail == "" {
		logging.Warnf("Alert mailer not configured, acknowledgment overdue alert for lineage %s not emailed", lineageID)
		return
	}

	subject := fmt.Sprintf("Acknowledgment overdue: lineage %s", lineageID)
	body := fmt.Sprintf(
		"Platform acknowledgment did not complete.\n\n"+
			"Lineage:  %s\nProduct:  %s\nAttempts: %d\nLast error: %v\n\n"+
			"The platform will refund and revoke this purchase unless it is acknowledged manually.\n",
		lineageID, productID, attempts, lastErr)

	req := emailRequest{
		Sender:      emailAddress{Name: "Entitlement Service", Email: m.fromEmail},
		To:          []emailAddress{{Email: m.alertEmail}},
		Subject:     subject,
		TextContent: body,
	}

	if err := m.send(req); err != nil {
		logging.Errorf("Failed to send overdue acknowledgment alert for lineage %s: %v", lineageID, err)
	}
}

// send delivers an email via the Brevo API
func (m *AlertMailer) send(req emailRequest) error {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal email request: %w", err)
	}

	httpReq, err := http.NewRequest("POST", "https://api.brevo.com/v3/smtp/email", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", m.apiKey)

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("brevo API error: status %d", resp.StatusCode)
	}

	return nil
}
