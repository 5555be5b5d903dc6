package model

import (
	"time"

	"github.com/google/uuid"

	"render-credit-platform/internal/domain"
)

type JobStatus string

const (
	JobStatusPending            JobStatus = "pending"             // created, not yet paid
	JobStatusAwaitingApproval   JobStatus = "awaiting_approval"   // re-render needs explicit confirmation
	JobStatusCharged            JobStatus = "charged"             // credits debited
	JobStatusDispatched         JobStatus = "dispatched"          // provider accepted, handle known
	JobStatusAwaitingCompletion JobStatus = "awaiting_completion" // in flight at the provider
	JobStatusComplete           JobStatus = "complete"
	JobStatusFailed             JobStatus = "failed"
	JobStatusExpired            JobStatus = "expired"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:            {JobStatusCharged, JobStatusAwaitingApproval, JobStatusFailed},
	JobStatusAwaitingApproval:   {JobStatusCharged, JobStatusFailed},
	JobStatusCharged:            {JobStatusDispatched, JobStatusFailed},
	JobStatusDispatched:         {JobStatusAwaitingCompletion, JobStatusComplete, JobStatusFailed, JobStatusExpired},
	JobStatusAwaitingCompletion: {JobStatusComplete, JobStatusFailed, JobStatusExpired},
}

// CanTransition reports whether from -> to is an edge of the job state machine.
func CanTransition(from, to JobStatus) bool {
	for _, s := range jobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PreStates lists every status that may legally move into to.
func PreStates(to JobStatus) []JobStatus {
	var out []JobStatus
	for _, from := range []JobStatus{
		JobStatusPending, JobStatusAwaitingApproval, JobStatusCharged,
		JobStatusDispatched, JobStatusAwaitingCompletion,
	} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed || s == JobStatusExpired
}

// InFlight is true while the provider holds the work.
func (s JobStatus) InFlight() bool {
	return s == JobStatusDispatched || s == JobStatusAwaitingCompletion
}

// Cancellable is true while the job has not reached a provider yet.
func (s JobStatus) Cancellable() bool {
	return s == JobStatusPending || s == JobStatusAwaitingApproval || s == JobStatusCharged
}

type ContentType string

const (
	ContentPromptToImage ContentType = "prompt_to_image"
	ContentImageEditing  ContentType = "image_editing"
	ContentImageToVideo  ContentType = "image_to_video"
	ContentPromptToVideo ContentType = "prompt_to_video"
	ContentPromptToAudio ContentType = "prompt_to_audio"
)

func (c ContentType) Valid() bool {
	switch c {
	case ContentPromptToImage, ContentImageEditing, ContentImageToVideo, ContentPromptToVideo, ContentPromptToAudio:
		return true
	}
	return false
}

// NeedsInputAsset is true for content types that transform an uploaded asset.
func (c ContentType) NeedsInputAsset() bool {
	return c == ContentImageEditing || c == ContentImageToVideo
}

// Job is one billed unit of asynchronous work submitted to an external provider.
type Job struct {
	ID             string
	UserID         string
	ResourceID     string // optional target; a completed job on it makes the next one a re-render
	Provider       string
	ContentType    ContentType
	Model          string
	Prompt         string
	InputAssets    []string
	SizeMeasure    SizeMeasure
	Size           int64
	Cost           int64
	QuotedSize     int64 // size and cost of the first estimate; edits are priced against it
	QuotedCost     int64
	RefundedAmount int64
	Status         JobStatus
	ExternalHandle *string
	ArtifactURL    *string
	LastError      string
	Attempts       int
	PollCount      int
	NextPollAt     *time.Time
	CreatedAt      time.Time
	ChargedAt      *time.Time
	DispatchedAt   *time.Time
	CompletedAt    *time.Time
	UpdatedAt      time.Time
}

// NewJob validates the request shape and returns a pending job.
func NewJob(userID, provider string, contentType ContentType, modelName, prompt string, assets []string) (*Job, error) {
	if userID == "" || provider == "" || !contentType.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	if contentType.NeedsInputAsset() && len(assets) == 0 {
		return nil, domain.ErrValidation
	}
	now := time.Now()
	return &Job{
		ID:          uuid.NewString(),
		UserID:      userID,
		Provider:    provider,
		ContentType: contentType,
		Model:       modelName,
		Prompt:      prompt,
		InputAssets: assets,
		Status:      JobStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Refundable is the part of the charge not yet returned to the user.
func (j *Job) Refundable() int64 {
	if j.ChargedAt == nil {
		return 0
	}
	if r := j.Cost - j.RefundedAmount; r > 0 {
		return r
	}
	return 0
}

// Age is measured from dispatch; jobs never dispatched age from creation.
func (j *Job) Age(now time.Time) time.Duration {
	if j.DispatchedAt != nil {
		return now.Sub(*j.DispatchedAt)
	}
	return now.Sub(j.CreatedAt)
}

func (j *Job) Handle() string {
	if j.ExternalHandle == nil {
		return ""
	}
	return *j.ExternalHandle
}

// JobPatch carries the columns a transition may set alongside the status.
// Nil fields are left untouched.
type JobPatch struct {
	ExternalHandle *string
	ArtifactURL    *string
	LastError      *string
	Cost           *int64
	ChargedAt      *time.Time
	DispatchedAt   *time.Time
	CompletedAt    *time.Time
	NextPollAt     *time.Time
	AddAttempts    int
}

// CancelledByUser is the last_error of jobs a user cancelled before dispatch.
const CancelledByUser = "cancelled by user"

// ObservedState is a provider's status mapped onto the local vocabulary.
type ObservedState string

const (
	ObservedRunning   ObservedState = "running"
	ObservedSucceeded ObservedState = "succeeded"
	ObservedFailed    ObservedState = "failed"
	ObservedExpired   ObservedState = "expired"
	ObservedUnknown   ObservedState = "unknown" // provider does not know the handle
)

// Observation is what a webhook, a poll, or a synchronous provider reports about a job.
type Observation struct {
	State       ObservedState
	ArtifactURL string
	Error       string
	Source      string // webhook | poll | dispatch | sweep | user
}

func (o Observation) Terminal() bool {
	return o.State == ObservedSucceeded || o.State == ObservedFailed || o.State == ObservedExpired
}

// TargetStatus maps a terminal observation to the job status it produces.
func (o Observation) TargetStatus() (JobStatus, bool) {
	switch o.State {
	case ObservedSucceeded:
		return JobStatusComplete, true
	case ObservedFailed:
		return JobStatusFailed, true
	case ObservedExpired:
		return JobStatusExpired, true
	}
	return "", false
}
