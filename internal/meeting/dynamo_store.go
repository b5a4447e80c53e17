package meeting

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type attendeeRecord struct {
	Identity   string `dynamodbav:"identity"`
	AttendeeID string `dynamodbav:"attendeeId"`
	JoinedAt   string `dynamodbav:"joinedAt"`
}

// sessionRecord is the DynamoDB item layout. expiresAt is the table's TTL
// attribute in epoch seconds.
type sessionRecord struct {
	MeetingID           string           `dynamodbav:"meetingId"`
	AppointmentID       string           `dynamodbav:"appointmentId,omitempty"`
	ProviderSessionID   string           `dynamodbav:"providerSessionId"`
	ProviderSessionARN  string           `dynamodbav:"providerSessionArn,omitempty"`
	MediaRegion         string           `dynamodbav:"mediaRegion,omitempty"`
	Attendees           []attendeeRecord `dynamodbav:"attendees"`
	RecordingPipelineID string           `dynamodbav:"recordingPipelineId,omitempty"`
	Status              Status           `dynamodbav:"status"`
	Version             int64            `dynamodbav:"version"`
	CreatedAt           string           `dynamodbav:"createdAt"`
	UpdatedAt           string           `dynamodbav:"updatedAt"`
	EndedAt             string           `dynamodbav:"endedAt,omitempty"`
	ExpiresAt           int64            `dynamodbav:"expiresAt,omitempty"`
}

type DynamoStore struct {
	client    dynamoAPI
	tableName string
	now       func() time.Time
}

var _ Store = (*DynamoStore)(nil)

func NewDynamoStore(client dynamoAPI, tableName string) *DynamoStore {
	if client == nil {
		panic("meeting: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("meeting: table name cannot be empty")
	}
	return &DynamoStore{client: client, tableName: tableName, now: time.Now}
}

func (d *DynamoStore) Create(ctx context.Context, s *Session) error {
	s.Version = 1
	item, err := attributevalue.MarshalMap(toRecord(s))
	if err != nil {
		return fmt.Errorf("meeting: marshal session: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(meetingId)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrSessionExists
		}
		return fmt.Errorf("meeting: persist session: %w", err)
	}
	return nil
}

func (d *DynamoStore) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"meetingId": &types.AttributeValueMemberS{Value: id.String()},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("meeting: fetch session: %w", err)
	}
	if out.Item == nil {
		return nil, ErrSessionNotFound
	}

	var rec sessionRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("meeting: decode session: %w", err)
	}
	// TTL deletion runs lazily, so an expired item can still be read.
	if d.expired(rec) {
		return nil, ErrSessionNotFound
	}
	return fromRecord(rec)
}

func (d *DynamoStore) Update(ctx context.Context, s *Session) error {
	expected := s.Version
	next := s.clone()
	next.Version = expected + 1

	item, err := attributevalue.MarshalMap(toRecord(next))
	if err != nil {
		return fmt.Errorf("meeting: marshal session: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(meetingId) AND #version = :expected"),
		ExpressionAttributeNames: map[string]string{
			"#version": "version",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrVersionConflict
		}
		return fmt.Errorf("meeting: update session %s: %w", s.ID, err)
	}
	s.Version = next.Version
	return nil
}

func (d *DynamoStore) ListOpen(ctx context.Context) ([]Session, error) {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(d.tableName),
		FilterExpression: aws.String("#status IN (:created, :active)"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":created": &types.AttributeValueMemberS{Value: string(StatusCreated)},
			":active":  &types.AttributeValueMemberS{Value: string(StatusActive)},
		},
	}

	result := make([]Session, 0)
	for {
		out, err := d.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("meeting: scan open sessions: %w", err)
		}

		var recs []sessionRecord
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &recs); err != nil {
			return nil, fmt.Errorf("meeting: decode sessions: %w", err)
		}
		for _, rec := range recs {
			if d.expired(rec) {
				continue
			}
			s, err := fromRecord(rec)
			if err != nil {
				return nil, err
			}
			result = append(result, *s)
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return result, nil
}

func (d *DynamoStore) expired(rec sessionRecord) bool {
	return rec.ExpiresAt != 0 && rec.ExpiresAt <= d.now().Unix()
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func toRecord(s *Session) sessionRecord {
	rec := sessionRecord{
		MeetingID:           s.ID.String(),
		ProviderSessionID:   s.ProviderSessionID,
		ProviderSessionARN:  s.ProviderSessionARN,
		MediaRegion:         s.MediaRegion,
		Attendees:           make([]attendeeRecord, 0, len(s.Attendees)),
		RecordingPipelineID: s.RecordingPipelineID,
		Status:              s.Status,
		Version:             s.Version,
		CreatedAt:           s.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:           s.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if s.AppointmentID != nil {
		rec.AppointmentID = s.AppointmentID.String()
	}
	if s.EndedAt != nil {
		rec.EndedAt = s.EndedAt.UTC().Format(time.RFC3339Nano)
	}
	if !s.ExpiresAt.IsZero() {
		rec.ExpiresAt = s.ExpiresAt.Unix()
	}
	for _, a := range s.Attendees {
		rec.Attendees = append(rec.Attendees, attendeeRecord{
			Identity:   a.Identity,
			AttendeeID: a.AttendeeID,
			JoinedAt:   a.JoinedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return rec
}

func fromRecord(rec sessionRecord) (*Session, error) {
	id, err := uuid.Parse(rec.MeetingID)
	if err != nil {
		return nil, fmt.Errorf("meeting: bad meetingId %q: %w", rec.MeetingID, err)
	}
	s := &Session{
		ID:                  id,
		ProviderSessionID:   rec.ProviderSessionID,
		ProviderSessionARN:  rec.ProviderSessionARN,
		MediaRegion:         rec.MediaRegion,
		Attendees:           make([]Attendee, 0, len(rec.Attendees)),
		RecordingPipelineID: rec.RecordingPipelineID,
		Status:              rec.Status,
		Version:             rec.Version,
		CreatedAt:           parseTime(rec.CreatedAt),
		UpdatedAt:           parseTime(rec.UpdatedAt),
	}
	if rec.AppointmentID != "" {
		apptID, err := uuid.Parse(rec.AppointmentID)
		if err != nil {
			return nil, fmt.Errorf("meeting: bad appointmentId %q: %w", rec.AppointmentID, err)
		}
		s.AppointmentID = &apptID
	}
	if rec.EndedAt != "" {
		t := parseTime(rec.EndedAt)
		s.EndedAt = &t
	}
	if rec.ExpiresAt != 0 {
		s.ExpiresAt = time.Unix(rec.ExpiresAt, 0).UTC()
	}
	for _, a := range rec.Attendees {
		s.Attendees = append(s.Attendees, Attendee{
			Identity:   a.Identity,
			AttendeeID: a.AttendeeID,
			JoinedAt:   parseTime(a.JoinedAt),
		})
	}
	return s, nil
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
