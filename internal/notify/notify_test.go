package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutingTable(t *testing.T) {
	table, err := ParseRoutingTable(`{"North-Health":"north@clinic.example","default":"records@clinic.example"}`)
	require.NoError(t, err)

	key, ok := table.RouteFor("north-health ")
	assert.True(t, ok)
	assert.Equal(t, "north@clinic.example", key)

	key, ok = table.RouteFor("unknown")
	assert.True(t, ok)
	assert.Equal(t, "records@clinic.example", key)

	key, ok = table.RouteFor("")
	assert.True(t, ok)
	assert.Equal(t, "records@clinic.example", key)
}

func TestRoutingTableWithoutDefault(t *testing.T) {
	table, err := ParseRoutingTable("")
	require.NoError(t, err)
	_, ok := table.RouteFor("north-health")
	assert.False(t, ok)

	_, err = ParseRoutingTable("{not json")
	assert.Error(t, err)
}

type mockSES struct {
	in  *sesv2.SendEmailInput
	err error
}

func (m *mockSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.in = in
	if m.err != nil {
		return nil, m.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESSummarySender(t *testing.T) {
	client := &mockSES{}
	sender := NewSESSummarySender(client, "noreply@clinic.example", zerolog.Nop())
	id := uuid.New()

	err := sender.SendSummary(context.Background(), id, []string{"s3://docs/rx.pdf"}, "north@clinic.example")
	require.NoError(t, err)
	assert.Equal(t, []string{"north@clinic.example"}, client.in.Destination.ToAddresses)
	assert.Contains(t, aws.ToString(client.in.Content.Simple.Subject.Data), id.String())
	assert.Contains(t, aws.ToString(client.in.Content.Simple.Body.Text.Data), "s3://docs/rx.pdf")
}

func TestSESSummarySenderErrors(t *testing.T) {
	sender := NewSESSummarySender(&mockSES{err: errors.New("throttled")}, "noreply@clinic.example", zerolog.Nop())

	assert.Error(t, sender.SendSummary(context.Background(), uuid.New(), nil, ""))
	assert.Error(t, sender.SendSummary(context.Background(), uuid.New(), nil, "x@clinic.example"))
}
