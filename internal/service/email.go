package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/textproto"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"gopkg.in/gomail.v2"

	"shelfmarket-backend/internal/config"
	"shelfmarket-backend/internal/errs"
	"shelfmarket-backend/internal/logger"
)

// NewSender builds the transport named by cfg.Notification.Transport. The
// publisher is only used by the kafka transport.
func NewSender(cfg *config.Config, publisher Publisher) (Sender, error) {
	n := cfg.Notification
	switch n.Transport {
	case "smtp":
		return NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password, n.From, n.FromName), nil
	case "sendgrid":
		return NewSendGridSender(sendgrid.NewSendClient(n.SendGrid.APIKey), n.From, n.FromName), nil
	case "kafka":
		if publisher == nil {
			return nil, errs.New("kafka transport needs a publisher")
		}
		return NewKafkaSender(publisher, n.Kafka.Topic), nil
	case "log", "":
		return NewLogSender(), nil
	default:
		return nil, errs.Newf("unknown notification transport %q", n.Transport)
	}
}

type smtpSender struct {
	dialer   *gomail.Dialer
	from     string
	fromName string
}

func NewSMTPSender(host string, port int, username, password, from, fromName string) Sender {
	return &smtpSender{
		dialer:   gomail.NewDialer(host, port, username, password),
		from:     from,
		fromName: fromName,
	}
}

func (s *smtpSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.from, s.fromName)
	m.SetAddressHeader("To", msg.To, msg.ToName)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)

	logger.ExternalServiceCall("smtp", "DialAndSend", "to", msg.To, "kind", msg.Kind)
	err := s.dialer.DialAndSend(m)
	logger.ExternalServiceResult("smtp", "DialAndSend", err, "jobID", msg.JobID)
	if err != nil {
		return classifySMTPError(err)
	}
	return nil
}

// classifySMTPError treats 5xx replies as permanent rejections.
func classifySMTPError(err error) error {
	var protoErr *textproto.Error
	if errs.As(err, &protoErr) && protoErr.Code >= 500 {
		return errs.Mark(errs.Wrap(err, "smtp server rejected message"), errs.ErrPermanentDelivery)
	}
	return errs.Wrap(err, "failed to send email via gomail")
}

type sendGridClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

type sendGridSender struct {
	client   sendGridClient
	from     string
	fromName string
}

func NewSendGridSender(client sendGridClient, from, fromName string) Sender {
	return &sendGridSender{client: client, from: from, fromName: fromName}
}

func (s *sendGridSender) Send(ctx context.Context, msg Message) error {
	message := mail.NewSingleEmail(
		mail.NewEmail(s.fromName, s.from),
		msg.Subject,
		mail.NewEmail(msg.ToName, msg.To),
		msg.Body,
		"",
	)

	logger.ExternalServiceCall("sendgrid", "Send", "to", msg.To, "kind", msg.Kind)
	resp, err := s.client.SendWithContext(ctx, message)
	logger.ExternalServiceResult("sendgrid", "Send", err, "jobID", msg.JobID)
	if err != nil {
		return errs.Wrap(err, "failed to send email via sendgrid")
	}
	return classifySendGridStatus(resp.StatusCode, resp.Body)
}

// classifySendGridStatus retries throttling and server errors; any other 4xx
// means the request itself is bad.
func classifySendGridStatus(status int, body string) error {
	switch {
	case status < 400:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return errs.Newf("sendgrid error: status %d, body: %s", status, body)
	default:
		return errs.Mark(errs.Newf("sendgrid rejected message: status %d, body: %s", status, body), errs.ErrPermanentDelivery)
	}
}

// Publisher is the slice of a message broker producer the kafka transport needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error
}

type kafkaSender struct {
	publisher Publisher
	topic     string
}

// NewKafkaSender publishes rendered messages as JSON events keyed by recipient,
// for a downstream mailer to pick up.
func NewKafkaSender(publisher Publisher, topic string) Sender {
	return &kafkaSender{publisher: publisher, topic: topic}
}

func (s *kafkaSender) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return errs.Mark(errs.Wrap(err, "encode notification event"), errs.ErrPermanentDelivery)
	}
	headers := map[string]string{"kind": msg.Kind, "job_id": msg.JobID}

	logger.ExternalServiceCall("kafka", "Publish", "topic", s.topic, "kind", msg.Kind)
	err = s.publisher.Publish(ctx, s.topic, msg.RecipientID, payload, headers)
	logger.ExternalServiceResult("kafka", "Publish", err, "jobID", msg.JobID)
	if err != nil {
		return errs.Wrap(err, "publish notification event")
	}
	return nil
}

type logSender struct{}

// NewLogSender writes messages to the log instead of delivering them.
func NewLogSender() Sender {
	return logSender{}
}

func (logSender) Send(ctx context.Context, msg Message) error {
	logger.InfoContext(ctx, "Notification (log transport)",
		"jobID", msg.JobID,
		"kind", msg.Kind,
		"to", msg.To,
		"subject", msg.Subject)
	return nil
}
