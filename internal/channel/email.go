package channel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"golang.org/x/time/rate"

	"github.com/minutecast/minutecast/internal/domain"
)

// EmailAdapter delivers the HTML and plain-text renderings of the minutes to
// a mailbox.
type EmailAdapter struct {
	transport EmailTransport
	limiter   *rate.Limiter
}

// NewEmailAdapter wraps a transport with an optional per-channel send
// throttle (ratePerSec <= 0 disables it).
func NewEmailAdapter(transport EmailTransport, ratePerSec int) *EmailAdapter {
	return &EmailAdapter{transport: transport, limiter: newLimiter(ratePerSec)}
}

func (a *EmailAdapter) Channel() domain.Channel {
	return domain.ChannelEmail
}

func (a *EmailAdapter) Send(ctx context.Context, recipient domain.Recipient, doc domain.Document) Outcome {
	start := time.Now()
	if err := waitLimiter(ctx, a.limiter); err != nil {
		return classify(err, start)
	}
	messageID, err := a.transport.SendMail(ctx, recipient.ContactAddress, doc.Subject, doc.HTMLBody, doc.TextBody)
	if err == nil && messageID != "" {
		log.Printf("email: sent recipient=%s message_id=%s", recipient.ID, messageID)
	}
	return classify(err, start)
}

// SESTransport sends mail through AWS SES v2.
type SESTransport struct {
	client *sesv2.Client
	from   string
}

func NewSESTransport(cfg aws.Config, from string) (*SESTransport, error) {
	if from == "" {
		return nil, errors.New("ses: from address is empty")
	}
	return &SESTransport{
		client: sesv2.NewFromConfig(cfg),
		from:   from,
	}, nil
}

// SendMail sends one message to one mailbox. Malformed addresses never
// reach the wire.
func (t *SESTransport) SendMail(ctx context.Context, address, subject, htmlBody, textBody string) (string, error) {
	if _, err := mail.ParseAddress(address); err != nil {
		return "", &PermanentError{Reason: fmt.Sprintf("invalid mailbox %q", address)}
	}

	body := &types.Body{}
	if htmlBody != "" {
		body.Html = &types.Content{Data: aws.String(htmlBody)}
	}
	if textBody != "" {
		body.Text = &types.Content{Data: aws.String(textBody)}
	}

	out, err := t.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(t.from),
		Destination: &types.Destination{
			ToAddresses: []string{address},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject)},
				Body:    body,
			},
		},
	})
	if err != nil {
		return "", classifySESError(err)
	}
	return aws.ToString(out.MessageId), nil
}

func classifySESError(err error) error {
	var rejected *types.MessageRejected
	var badRequest *types.BadRequestException
	var notFound *types.NotFoundException
	var unverified *types.MailFromDomainNotVerifiedException
	var suspended *types.AccountSuspendedException
	switch {
	case errors.As(err, &rejected):
		return &PermanentError{Reason: "content rejected", Err: err}
	case errors.As(err, &badRequest):
		return &PermanentError{Reason: "request rejected", Err: err}
	case errors.As(err, &notFound):
		return &PermanentError{Reason: "unknown resource", Err: err}
	case errors.As(err, &unverified):
		return &PermanentError{Reason: "sender not verified", Err: err}
	case errors.As(err, &suspended):
		return &PermanentError{Reason: "sending suspended", Err: err}
	}

	var throttled *types.TooManyRequestsException
	var limited *types.LimitExceededException
	var paused *types.SendingPausedException
	switch {
	case errors.As(err, &throttled), errors.As(err, &limited):
		return &TransientError{Reason: "throttled", Err: err}
	case errors.As(err, &paused):
		return &TransientError{Reason: "sending paused", Err: err}
	}

	return &TransientError{Reason: "ses send", Err: err}
}
