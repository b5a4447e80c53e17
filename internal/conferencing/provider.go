// Package conferencing defines the video provider capability used by the
// meeting manager and its AWS Chime SDK implementation.
package conferencing

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/aws/smithy-go"

	"github.com/hackgods/clinic-teleconsult-scheduling/internal/apperr"
)

// Result separates "the provider does not know this resource" from success
// without inspecting error text.
type Result int

const (
	ResultOK Result = iota
	ResultNotFound
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultNotFound:
		return "not_found"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

type SessionConfig struct {
	ExternalID  string // our meeting id, echoed by the provider
	ClientToken string // idempotency token for the create call
	MediaRegion string
}

type SessionHandle struct {
	ProviderSessionID string
	ARN               string
	MediaRegion       string
	AudioHostURL      string
	SignalingURL      string
}

type SessionInfo struct {
	ProviderSessionID string
	ARN               string
	MediaRegion       string
}

type Credential struct {
	AttendeeID     string `json:"attendee_id"`
	ExternalUserID string `json:"external_user_id"`
	JoinToken      string `json:"join_token"`
}

type PipelineHandle struct {
	ID  string
	ARN string
}

// Provider is the conferencing vendor capability. Errors returned are already
// classified as apperr Provider or Transient kinds. NotFound is reported
// through Result where a caller needs to act on it.
type Provider interface {
	CreateSession(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
	GetSession(ctx context.Context, providerSessionID string) (SessionInfo, Result, error)
	DeleteSession(ctx context.Context, providerSessionID string) (Result, error)
	CreateAttendee(ctx context.Context, providerSessionID, identity string) (Credential, error)
	AttachRecordingPipeline(ctx context.Context, sessionARN, sinkARN string) (PipelineHandle, error)
	DetachRecordingPipeline(ctx context.Context, pipelineID string) (Result, error)
}

var transientCodes = map[string]bool{
	"ThrottlingException":         true,
	"ServiceUnavailableException": true,
	"ServiceFailureException":     true,
	"RequestTimeout":              true,
}

// Classify maps a provider call failure onto the error taxonomy. Timeouts,
// network failures, throttling and server faults are Transient; the rest are
// Provider errors.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.Transient(op+" timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperr.Transient(op+" network failure", err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if apiErr.ErrorFault() == smithy.FaultServer || transientCodes[apiErr.ErrorCode()] {
			return apperr.Transient(op+" unavailable", err)
		}
	}
	return apperr.Provider(op+" failed", err)
}
