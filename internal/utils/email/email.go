package email

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/bank-feed/internal/config"
)

// Sender handles sending notification emails via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
	}
}

// SendReauthorizationRequired tells the operator that a bank consent must be
// granted again
func (s *Sender) SendReauthorizationRequired(tenantID int64, bank string) error {
	return s.send(s.reauthorizationMessage(tenantID, bank, time.Now()))
}

// SendImportFailed reports an import that produced no transactions
func (s *Sender) SendImportFailed(tenantID int64, fileName string, errs []string) error {
	return s.send(s.importFailedMessage(tenantID, fileName, errs))
}

func (s *Sender) reauthorizationMessage(tenantID int64, bank string, at time.Time) *email.Email {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{s.cfg.NotifyEmail}
	e.Subject = fmt.Sprintf("Bank connection %s needs reauthorization", bank)

	body := fmt.Sprintf(
		"The connection to %s for tenant %d could not be refreshed on %s.\n"+
			"Transactions will not be synchronized until the consent is granted again.\n",
		bank, tenantID, at.Format("2006-01-02 15:04:05"),
	)
	body += "\nBest regards,\nBank Feed"
	e.Text = []byte(body)
	return e
}

func (s *Sender) importFailedMessage(tenantID int64, fileName string, errs []string) *email.Email {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{s.cfg.NotifyEmail}
	e.Subject = fmt.Sprintf("Import of %s failed", fileName)

	body := fmt.Sprintf("The statement %s imported for tenant %d produced no transactions.\n", fileName, tenantID)
	if len(errs) > 0 {
		shown := errs
		if len(shown) > 10 {
			shown = shown[:10]
		}
		body += "\nFirst errors:\n  " + strings.Join(shown, "\n  ") + "\n"
	}
	body += "\nBest regards,\nBank Feed"
	e.Text = []byte(body)
	return e
}

func (s *Sender) send(e *email.Email) error {
	if !s.cfg.SMTPEnabled() {
		s.logger.Debugf("SMTP disabled, skipping email: %s", e.Subject)
		return nil
	}
	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	if err := e.Send(addr, auth); err != nil {
		s.logger.Errorf("Failed to send email to %s: %v", strings.Join(e.To, ","), err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", strings.Join(e.To, ","), e.Subject)
	return nil
}
