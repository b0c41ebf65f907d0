package batch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrRateLimited     = errors.New("rate_limited")
	ErrNoHouseholds    = errors.New("no_households_selected")
	ErrActorRequired   = errors.New("actor_required")
	ErrInvalidAction   = errors.New("invalid_post_action")
	ErrBuildInProgress = errors.New("build_in_progress")
	ErrShuttingDown    = errors.New("orchestrator_shutting_down")
)

// RateLimitError is returned when an actor prepares too often. It matches
// ErrRateLimited.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

type PostAction string

const (
	PostActionNone     PostAction = "none"
	PostActionDownload PostAction = "download"
)

func ParsePostAction(raw string) (PostAction, error) {
	switch PostAction(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PostActionNone:
		return PostActionNone, nil
	case PostActionDownload:
		return PostActionDownload, nil
	default:
		return "", ErrInvalidAction
	}
}

type PrepareRequest struct {
	ActorID      string
	SurgeID      snowflake.ID
	HouseholdIDs []snowflake.ID
	// Order is the submission order. Households outside HouseholdIDs are
	// ignored and selected households missing from it are appended.
	Order      []snowflake.ID
	PostAction PostAction
}

type PrepareResponse struct {
	Accepted        bool   `json:"accepted"`
	TotalHouseholds int    `json:"total_households"`
	TotalSteps      int64  `json:"total_steps"`
	BatchID         string `json:"batch_id"`
}

// ProgressEvent is emitted as "progress" on the actor channel.
type ProgressEvent struct {
	SurgeID   string `json:"surgeId"`
	BatchID   string `json:"batchId"`
	Completed int64  `json:"completed"`
	Total     int64  `json:"total"`
}

// AllDoneEvent is emitted once as "allDone" when a batch finishes.
// ArchiveRef is empty unless a download bundle was built.
type AllDoneEvent struct {
	SurgeID      string     `json:"surgeId"`
	BatchID      string     `json:"batchId"`
	Action       PostAction `json:"action"`
	SuccessCount int64      `json:"successCount"`
	ErrorCount   int64      `json:"errorCount"`
	Total        int        `json:"total"`
	ArchiveRef   string     `json:"archiveRef"`
	ArchiveKey   string     `json:"archiveKey,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}
