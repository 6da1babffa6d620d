package domain

import (
	"encoding/json"
	"math"
	"time"
)

// SubTaskStatus is the lifecycle state of a SubTask (spec §3).
type SubTaskStatus string

const (
	SubTaskPending    SubTaskStatus = "Pending"
	SubTaskSubmitting SubTaskStatus = "Submitting"
	SubTaskSubmitted  SubTaskStatus = "Submitted"
	SubTaskAnalyzing  SubTaskStatus = "Analyzing"
	SubTaskPaused     SubTaskStatus = "Paused"
	SubTaskCompleted  SubTaskStatus = "Completed"
	SubTaskFailed     SubTaskStatus = "Failed"
	SubTaskCancelled  SubTaskStatus = "Cancelled"
)

// Terminal reports whether s is a terminal state (spec invariant §3.6: a
// sub-task never moves from a terminal state back to a non-terminal one).
func (s SubTaskStatus) Terminal() bool {
	switch s {
	case SubTaskCompleted, SubTaskFailed, SubTaskCancelled:
		return true
	}
	return false
}

// SubTask is the unit of work scheduled against a single sample against a
// single backend instance.
type SubTask struct {
	ID             string
	MasterID       string
	SampleID       string
	AnalyzerFamily AnalyzerFamily

	InstanceID      *string
	ExternalTaskID  *string
	Status          SubTaskStatus
	Priority        int
	Parameters      json.RawMessage
	RetryCount      int
	ErrorMessage    string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// NegativeSentinel derives a negative, millisecond-based integer used to
// reserve a sub-task row during the Submitting window (spec §4.4 step 2,
// §9 "Negative-sentinel external ids"). It is never a valid positive
// external id so concurrent claimers cannot mistake it for a real one.
func NegativeSentinel(now time.Time) int64 {
	ms := now.UnixMilli()
	if ms <= 0 {
		ms = 1
	}
	return -ms
}

// IsSentinel reports whether an external_task_id string looks like a
// negative-sentinel placeholder rather than a real backend id.
func IsSentinel(externalTaskID *string) bool {
	if externalTaskID == nil || *externalTaskID == "" {
		return true
	}
	return (*externalTaskID)[0] == '-'
}

// ProgressPercent computes floor(finished*100/total), clamping total==0 to 0
// (spec invariant §3.2).
func ProgressPercent(finished, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Floor(float64(finished) * 100 / float64(total)))
}
