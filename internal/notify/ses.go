package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SESAPI is the part of the sesv2 client the sender uses.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSummarySender emails summaries. The routing key is the recipient
// address.
type SESSummarySender struct {
	client    SESAPI
	fromEmail string
	logger    zerolog.Logger
}

func NewSESSummarySender(client SESAPI, fromEmail string, logger zerolog.Logger) *SESSummarySender {
	return &SESSummarySender{client: client, fromEmail: fromEmail, logger: logger}
}

func (s *SESSummarySender) SendSummary(ctx context.Context, appointmentID uuid.UUID, documentRefs []string, routingKey string) error {
	if routingKey == "" {
		return errors.New("notify: empty routing key")
	}

	subject := fmt.Sprintf("Consultation summary for appointment %s", appointmentID)
	var body strings.Builder
	fmt.Fprintf(&body, "Appointment: %s\n", appointmentID)
	if len(documentRefs) == 0 {
		body.WriteString("No documents attached.\n")
	} else {
		body.WriteString("Documents:\n")
		for _, ref := range documentRefs {
			fmt.Fprintf(&body, "  - %s\n", ref)
		}
	}

	out, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.fromEmail),
		Destination: &types.Destination{
			ToAddresses: []string{routingKey},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data:    aws.String(body.String()),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("notify: SES send failed: %w", err)
	}

	s.logger.Info().
		Str("appointment_id", appointmentID.String()).
		Str("to", routingKey).
		Str("message_id", aws.ToString(out.MessageId)).
		Msg("summary sent via SES")
	return nil
}

var _ SummarySender = (*SESSummarySender)(nil)
