// Package domain holds the core entities of the sample-analysis orchestrator:
// master tasks, sub-tasks, backend instances and analysis results, plus the
// state-machine constants and invariant helpers shared by every component
// that mutates them.
package domain

import (
	"encoding/json"
	"time"
)

// AnalyzerFamily identifies a class of backend sharing a client interface.
type AnalyzerFamily string

const (
	FamilyDynamicSandbox  AnalyzerFamily = "DynamicSandbox"
	FamilyFeatureExtractor AnalyzerFamily = "FeatureExtractor"
)

// Valid reports whether f is one of the known analyzer families.
func (f AnalyzerFamily) Valid() bool {
	switch f {
	case FamilyDynamicSandbox, FamilyFeatureExtractor:
		return true
	}
	return false
}

// TaskType distinguishes a batch of samples from a single-sample task.
type TaskType string

const (
	TaskTypeBatch  TaskType = "Batch"
	TaskTypeSingle TaskType = "Single"
)

// MasterStatus is the lifecycle state of a MasterTask.
type MasterStatus string

const (
	MasterPending   MasterStatus = "Pending"
	MasterRunning   MasterStatus = "Running"
	MasterPaused    MasterStatus = "Paused"
	MasterCompleted MasterStatus = "Completed"
	MasterFailed    MasterStatus = "Failed"
	MasterCancelled MasterStatus = "Cancelled"
)

// Runnable reports whether the submission pipeline, poller and fetcher are
// allowed to keep advancing sub-tasks belonging to a master in this status
// (spec §4.4 step 1, the "master gate").
func (s MasterStatus) Runnable() bool {
	switch s {
	case MasterPending, MasterRunning:
		return true
	}
	return false
}

// MasterTask is the user-visible batch grouping of one or more sub-tasks.
type MasterTask struct {
	ID             string
	Name           string
	AnalyzerFamily AnalyzerFamily
	TaskType       TaskType

	TotalSamples     int
	CompletedSamples int
	FailedSamples    int
	ProgressPercent  int

	Status MasterStatus

	// SampleFilter is opaque JSON: the filter that materialized the
	// sub-tasks, kept for reproducibility (spec §3).
	SampleFilter json.RawMessage

	PausedAt     *time.Time
	PauseReason  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// Finished is the count of sub-tasks that have reached a terminal state, per
// invariant §3.2 (completed + failed, where "failed" here includes Cancelled).
func (m *MasterTask) Finished() int {
	return m.CompletedSamples + m.FailedSamples
}
