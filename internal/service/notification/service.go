package notification

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/meditrust/records-api/pkg/logger"
	"github.com/meditrust/records-api/pkg/metrics"
	"github.com/meditrust/records-api/pkg/validator"
)

const (
	channelSMS   = "sms"
	channelEmail = "email"
)

// Sender delivers a message to a destination out-of-band. Callers decide
// whether a delivery failure is fatal; for one-time codes it is not.
type Sender interface {
	Send(ctx context.Context, destination, message string) error
}

// SMSProvider is the SMS gateway contract. The default provider only logs;
// a real gateway is wired in per deployment.
type SMSProvider interface {
	Send(ctx context.Context, to, message string) error
}

type logSMSProvider struct {
	logger *logger.Logger
}

func NewLogSMSProvider(log *logger.Logger) SMSProvider {
	return &logSMSProvider{logger: log}
}

func (p *logSMSProvider) Send(_ context.Context, to, message string) error {
	p.logger.Info("sms delivery (log provider)", "to", to, "length", len(message))
	return nil
}

type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type service struct {
	sms     SMSProvider
	dialer  *gomail.Dialer
	from    string
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewService(sms SMSProvider, emailCfg EmailConfig, log *logger.Logger, m *metrics.Metrics) Sender {
	var dialer *gomail.Dialer
	if emailCfg.Host != "" {
		dialer = gomail.NewDialer(emailCfg.Host, emailCfg.Port, emailCfg.Username, emailCfg.Password)
	}
	return &service{
		sms:     sms,
		dialer:  dialer,
		from:    emailCfg.From,
		logger:  log,
		metrics: m,
	}
}

// Send routes by destination shape: phone numbers go to SMS, addresses with
// an @ go to email.
func (s *service) Send(ctx context.Context, destination, message string) error {
	var channel string
	var err error

	switch {
	case validator.IsPhone(destination):
		channel = channelSMS
		err = s.sms.Send(ctx, destination, message)
	case strings.Contains(destination, "@"):
		channel = channelEmail
		err = s.sendEmail(destination, message)
	default:
		return fmt.Errorf("unsupported destination %q", destination)
	}

	if err != nil {
		s.metrics.DeliveryResults.WithLabelValues(channel, "failed").Inc()
		return fmt.Errorf("failed to deliver via %s: %w", channel, err)
	}
	s.metrics.DeliveryResults.WithLabelValues(channel, "sent").Inc()
	return nil
}

func (s *service) sendEmail(to, message string) error {
	if s.dialer == nil {
		return fmt.Errorf("email transport not configured")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", "Your verification code")
	m.SetBody("text/plain", message)

	return s.dialer.DialAndSend(m)
}
