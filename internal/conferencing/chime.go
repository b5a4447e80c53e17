package conferencing

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/chimesdkmediapipelines"
	pipelinetypes "github.com/aws/aws-sdk-go-v2/service/chimesdkmediapipelines/types"
	"github.com/aws/aws-sdk-go-v2/service/chimesdkmeetings"
	meetingtypes "github.com/aws/aws-sdk-go-v2/service/chimesdkmeetings/types"
	"github.com/google/uuid"
)

// MeetingsAPI is the subset of the Chime SDK meetings client we call.
type MeetingsAPI interface {
	CreateMeeting(ctx context.Context, params *chimesdkmeetings.CreateMeetingInput, optFns ...func(*chimesdkmeetings.Options)) (*chimesdkmeetings.CreateMeetingOutput, error)
	GetMeeting(ctx context.Context, params *chimesdkmeetings.GetMeetingInput, optFns ...func(*chimesdkmeetings.Options)) (*chimesdkmeetings.GetMeetingOutput, error)
	DeleteMeeting(ctx context.Context, params *chimesdkmeetings.DeleteMeetingInput, optFns ...func(*chimesdkmeetings.Options)) (*chimesdkmeetings.DeleteMeetingOutput, error)
	CreateAttendee(ctx context.Context, params *chimesdkmeetings.CreateAttendeeInput, optFns ...func(*chimesdkmeetings.Options)) (*chimesdkmeetings.CreateAttendeeOutput, error)
}

// PipelinesAPI is the subset of the Chime SDK media pipelines client we call.
type PipelinesAPI interface {
	CreateMediaCapturePipeline(ctx context.Context, params *chimesdkmediapipelines.CreateMediaCapturePipelineInput, optFns ...func(*chimesdkmediapipelines.Options)) (*chimesdkmediapipelines.CreateMediaCapturePipelineOutput, error)
	DeleteMediaCapturePipeline(ctx context.Context, params *chimesdkmediapipelines.DeleteMediaCapturePipelineInput, optFns ...func(*chimesdkmediapipelines.Options)) (*chimesdkmediapipelines.DeleteMediaCapturePipelineOutput, error)
}

type ChimeProvider struct {
	meetings    MeetingsAPI
	pipelines   PipelinesAPI
	mediaRegion string
}

func NewChimeProvider(cfg aws.Config, mediaRegion string) *ChimeProvider {
	return NewChimeProviderWithClients(
		chimesdkmeetings.NewFromConfig(cfg),
		chimesdkmediapipelines.NewFromConfig(cfg),
		mediaRegion,
	)
}

func NewChimeProviderWithClients(meetings MeetingsAPI, pipelines PipelinesAPI, mediaRegion string) *ChimeProvider {
	return &ChimeProvider{meetings: meetings, pipelines: pipelines, mediaRegion: mediaRegion}
}

func (p *ChimeProvider) CreateSession(ctx context.Context, cfg SessionConfig) (SessionHandle, error) {
	region := cfg.MediaRegion
	if region == "" {
		region = p.mediaRegion
	}
	token := cfg.ClientToken
	if token == "" {
		token = uuid.NewString()
	}

	out, err := p.meetings.CreateMeeting(ctx, &chimesdkmeetings.CreateMeetingInput{
		ClientRequestToken: aws.String(token),
		ExternalMeetingId:  aws.String(cfg.ExternalID),
		MediaRegion:        aws.String(region),
	})
	if err != nil {
		return SessionHandle{}, Classify("create meeting", err)
	}
	if out.Meeting == nil {
		return SessionHandle{}, Classify("create meeting", errors.New("empty meeting in response"))
	}

	h := SessionHandle{
		ProviderSessionID: aws.ToString(out.Meeting.MeetingId),
		ARN:               aws.ToString(out.Meeting.MeetingArn),
		MediaRegion:       aws.ToString(out.Meeting.MediaRegion),
	}
	if mp := out.Meeting.MediaPlacement; mp != nil {
		h.AudioHostURL = aws.ToString(mp.AudioHostUrl)
		h.SignalingURL = aws.ToString(mp.SignalingUrl)
	}
	return h, nil
}

func (p *ChimeProvider) GetSession(ctx context.Context, providerSessionID string) (SessionInfo, Result, error) {
	out, err := p.meetings.GetMeeting(ctx, &chimesdkmeetings.GetMeetingInput{
		MeetingId: aws.String(providerSessionID),
	})
	if err != nil {
		if isMeetingNotFound(err) {
			return SessionInfo{}, ResultNotFound, nil
		}
		return SessionInfo{}, ResultOK, Classify("get meeting", err)
	}
	if out.Meeting == nil {
		return SessionInfo{}, ResultNotFound, nil
	}
	return SessionInfo{
		ProviderSessionID: aws.ToString(out.Meeting.MeetingId),
		ARN:               aws.ToString(out.Meeting.MeetingArn),
		MediaRegion:       aws.ToString(out.Meeting.MediaRegion),
	}, ResultOK, nil
}

func (p *ChimeProvider) DeleteSession(ctx context.Context, providerSessionID string) (Result, error) {
	_, err := p.meetings.DeleteMeeting(ctx, &chimesdkmeetings.DeleteMeetingInput{
		MeetingId: aws.String(providerSessionID),
	})
	if err != nil {
		if isMeetingNotFound(err) {
			return ResultNotFound, nil
		}
		return ResultOK, Classify("delete meeting", err)
	}
	return ResultOK, nil
}

func (p *ChimeProvider) CreateAttendee(ctx context.Context, providerSessionID, identity string) (Credential, error) {
	out, err := p.meetings.CreateAttendee(ctx, &chimesdkmeetings.CreateAttendeeInput{
		MeetingId:      aws.String(providerSessionID),
		ExternalUserId: aws.String(identity),
	})
	if err != nil {
		return Credential{}, Classify("create attendee", err)
	}
	if out.Attendee == nil {
		return Credential{}, Classify("create attendee", errors.New("empty attendee in response"))
	}
	return Credential{
		AttendeeID:     aws.ToString(out.Attendee.AttendeeId),
		ExternalUserID: aws.ToString(out.Attendee.ExternalUserId),
		JoinToken:      aws.ToString(out.Attendee.JoinToken),
	}, nil
}

func (p *ChimeProvider) AttachRecordingPipeline(ctx context.Context, sessionARN, sinkARN string) (PipelineHandle, error) {
	out, err := p.pipelines.CreateMediaCapturePipeline(ctx, &chimesdkmediapipelines.CreateMediaCapturePipelineInput{
		SourceType:         pipelinetypes.MediaPipelineSourceTypeChimeSdkMeeting,
		SourceArn:          aws.String(sessionARN),
		SinkType:           pipelinetypes.MediaPipelineSinkTypeS3Bucket,
		SinkArn:            aws.String(sinkARN),
		ClientRequestToken: aws.String(uuid.NewString()),
	})
	if err != nil {
		return PipelineHandle{}, Classify("create media capture pipeline", err)
	}
	if out.MediaCapturePipeline == nil {
		return PipelineHandle{}, Classify("create media capture pipeline", errors.New("empty pipeline in response"))
	}
	return PipelineHandle{
		ID:  aws.ToString(out.MediaCapturePipeline.MediaPipelineId),
		ARN: aws.ToString(out.MediaCapturePipeline.MediaPipelineArn),
	}, nil
}

func (p *ChimeProvider) DetachRecordingPipeline(ctx context.Context, pipelineID string) (Result, error) {
	_, err := p.pipelines.DeleteMediaCapturePipeline(ctx, &chimesdkmediapipelines.DeleteMediaCapturePipelineInput{
		MediaPipelineId: aws.String(pipelineID),
	})
	if err != nil {
		var nf *pipelinetypes.NotFoundException
		if errors.As(err, &nf) {
			return ResultNotFound, nil
		}
		return ResultOK, Classify("delete media capture pipeline", err)
	}
	return ResultOK, nil
}

func isMeetingNotFound(err error) bool {
	var nf *meetingtypes.NotFoundException
	return errors.As(err, &nf)
}

var _ Provider = (*ChimeProvider)(nil)
