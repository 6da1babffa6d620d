package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"sampleforge.io/orchestrator/internal/domain"
	apperrors "sampleforge.io/orchestrator/internal/pkg/errors"
	"sampleforge.io/orchestrator/internal/store"
)

// createTaskRequest is the body of POST /api/tasks (spec §6).
type createTaskRequest struct {
	Name           string                `json:"name" binding:"required"`
	AnalyzerFamily domain.AnalyzerFamily `json:"analyzer_family" binding:"required"`
	SampleIDs      []string              `json:"sample_ids" binding:"required"`
	InstanceIDs    []string              `json:"instance_ids"`
	Parameters     json.RawMessage       `json:"parameters"`
}

// CreateTask handles POST /api/tasks: materializes a MasterTask plus one
// SubTask per sample_id (spec §4.2 "selection policy", §6).
func (s *Server) CreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperrors.BadRequest(apperrors.CodeValidationFailed, err.Error()))
		return
	}
	if !req.AnalyzerFamily.Valid() {
		fail(c, apperrors.ErrInvalidRequestFieldf("analyzer_family"))
		return
	}
	if len(req.SampleIDs) == 0 {
		fail(c, apperrors.New(apperrors.CodeEmptySampleSet, "sample_ids must not be empty", http.StatusBadRequest))
		return
	}

	ctx := c.Request.Context()
	masterID := uuid.NewString()

	if err := s.store.CreateMaster(ctx, store.CreateMasterParams{
		ID:             masterID,
		Name:           req.Name,
		AnalyzerFamily: req.AnalyzerFamily,
		TaskType:       domain.TaskTypeBatch,
		TotalSamples:   len(req.SampleIDs),
	}); err != nil {
		fail(c, err)
		return
	}

	if err := s.createSubTasks(ctx, masterID, req.AnalyzerFamily, req.SampleIDs, req.InstanceIDs, req.Parameters); err != nil {
		fail(c, err)
		return
	}

	master, err := s.store.GetMaster(ctx, masterID)
	if err != nil {
		fail(c, err)
		return
	}
	created(c, master)
}

// createTaskByFilterRequest is the body of POST /api/tasks/by-filter: the
// sample set is opaque to the core and supplied pre-resolved by the caller
// (sample search/filtering is out of core scope per spec §1), but the filter
// itself is persisted on the master for reproducibility.
type createTaskByFilterRequest struct {
	Name           string                `json:"name" binding:"required"`
	AnalyzerFamily domain.AnalyzerFamily `json:"analyzer_family" binding:"required"`
	SampleIDs      []string              `json:"sample_ids" binding:"required"`
	Filter         json.RawMessage       `json:"filter"`
	InstanceIDs    []string              `json:"instance_ids"`
	Parameters     json.RawMessage       `json:"parameters"`
}

// CreateTaskByFilter handles POST /api/tasks/by-filter.
func (s *Server) CreateTaskByFilter(c *gin.Context) {
	var req createTaskByFilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperrors.BadRequest(apperrors.CodeValidationFailed, err.Error()))
		return
	}
	if !req.AnalyzerFamily.Valid() {
		fail(c, apperrors.ErrInvalidRequestFieldf("analyzer_family"))
		return
	}
	if len(req.SampleIDs) == 0 {
		fail(c, apperrors.New(apperrors.CodeEmptySampleSet, "filter resolved to an empty sample set", http.StatusBadRequest))
		return
	}

	ctx := c.Request.Context()
	masterID := uuid.NewString()

	if err := s.store.CreateMaster(ctx, store.CreateMasterParams{
		ID:             masterID,
		Name:           req.Name,
		AnalyzerFamily: req.AnalyzerFamily,
		TaskType:       domain.TaskTypeBatch,
		TotalSamples:   len(req.SampleIDs),
		SampleFilter:   req.Filter,
	}); err != nil {
		fail(c, err)
		return
	}

	if err := s.createSubTasks(ctx, masterID, req.AnalyzerFamily, req.SampleIDs, req.InstanceIDs, req.Parameters); err != nil {
		fail(c, err)
		return
	}

	master, err := s.store.GetMaster(ctx, masterID)
	if err != nil {
		fail(c, err)
		return
	}
	created(c, master)
}

func (s *Server) createSubTasks(ctx context.Context, masterID string, family domain.AnalyzerFamily, sampleIDs, instanceIDs []string, parameters json.RawMessage) error {
	for i, sampleID := range sampleIDs {
		var instanceID *string
		if len(instanceIDs) > 0 {
			id := instanceIDs[i%len(instanceIDs)]
			instanceID = &id
		}
		if err := s.store.CreateSubTask(ctx, store.CreateSubTaskParams{
			ID:             uuid.NewString(),
			MasterID:       masterID,
			SampleID:       sampleID,
			AnalyzerFamily: family,
			InstanceID:     instanceID,
			Parameters:     parameters,
		}); err != nil {
			return err
		}
	}
	return nil
}

// ListTasks handles GET /api/tasks: a paged list filtered by
// analyzer_family, status and created-time range (spec §6). The range
// bounds are the RFC 3339 query parameters created_after and
// created_before, both inclusive.
func (s *Server) ListTasks(c *gin.Context) {
	limit, offset := pagination(c)

	var family *domain.AnalyzerFamily
	if v := domain.AnalyzerFamily(c.Query("analyzer_family")); v != "" {
		family = &v
	}
	var status *domain.MasterStatus
	if v := domain.MasterStatus(c.Query("status")); v != "" {
		status = &v
	}
	var createdRange [2]*time.Time
	for i, name := range []string{"created_after", "created_before"} {
		if v := c.Query(name); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				fail(c, apperrors.ErrInvalidRequestFieldf(name))
				return
			}
			createdRange[i] = &ts
		}
	}

	masters, err := s.store.ListMasters(c.Request.Context(), store.ListMastersParams{
		AnalyzerFamily: family,
		Status:         status,
		CreatedAfter:   createdRange[0],
		CreatedBefore:  createdRange[1],
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, masters)
}

// GetTask handles GET /api/tasks/{id}.
func (s *Server) GetTask(c *gin.Context) {
	master, err := s.store.GetMaster(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			fail(c, apperrors.ErrMasterNotFoundf(c.Param("id")))
			return
		}
		fail(c, err)
		return
	}
	ok(c, master)
}

// taskStatusResponse is the real-time aggregate returned by GET
// /api/tasks/{id}/status and /api/<family>/status/{master_id} (spec §6).
type taskStatusResponse struct {
	MasterID        string             `json:"master_id"`
	Status          domain.MasterStatus `json:"status"`
	TotalSamples    int                `json:"total_samples"`
	Completed       int                `json:"completed"`
	Failed          int                `json:"failed"`
	ProgressPercent int                `json:"progress_percent"`
}

// GetTaskStatus handles GET /api/tasks/{id}/status.
func (s *Server) GetTaskStatus(c *gin.Context) {
	master, err := s.store.GetMaster(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			fail(c, apperrors.ErrMasterNotFoundf(c.Param("id")))
			return
		}
		fail(c, err)
		return
	}
	ok(c, taskStatusResponse{
		MasterID:        master.ID,
		Status:          master.Status,
		TotalSamples:    master.TotalSamples,
		Completed:       master.CompletedSamples,
		Failed:          master.FailedSamples,
		ProgressPercent: master.ProgressPercent,
	})
}

type pauseTaskRequest struct {
	Reason string `json:"reason"`
}

// PauseTask handles POST /api/tasks/{id}/pause.
func (s *Server) PauseTask(c *gin.Context) {
	var req pauseTaskRequest
	_ = c.ShouldBindJSON(&req)

	if err := s.pauseresume.Pause(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

// ResumeTask handles POST /api/tasks/{id}/resume.
func (s *Server) ResumeTask(c *gin.Context) {
	if err := s.pauseresume.Resume(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

// DeleteTask handles DELETE /api/tasks/{id} (cascade delete, spec §3).
func (s *Server) DeleteTask(c *gin.Context) {
	rows, err := s.store.DeleteMaster(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if rows == 0 {
		fail(c, apperrors.ErrMasterNotFoundf(c.Param("id")))
		return
	}
	ok(c, nil)
}

// ListSubTasks handles GET /api/tasks/{id}/sub-tasks (spec §6). Keyword
// search over filename/hashes is out of core scope (sample metadata lives
// outside this module, per spec §1) and is a thin join left to the caller's
// sample-service layer; this endpoint returns the paged sub-task rows the
// join operates over.
func (s *Server) ListSubTasks(c *gin.Context) {
	limit, offset := pagination(c)
	var status *domain.SubTaskStatus
	if v := domain.SubTaskStatus(c.Query("status")); v != "" {
		status = &v
	}

	subTasks, err := s.store.ListSubTasksByMaster(c.Request.Context(), c.Param("id"), status, limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, subTasks)
}
