package api

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	"sampleforge.io/orchestrator/internal/domain"
	apperrors "sampleforge.io/orchestrator/internal/pkg/errors"
)

// executeRequest is the body of POST /api/<family>/execute (spec §6): an
// immediate, synchronous batch-submit call for an existing master's
// Pending sub-tasks. submit_interval_ms/concurrency are carried by the
// pipeline's own Config rather than per-request (spec §4.4); the fields
// are accepted here for wire compatibility and otherwise ignored.
type executeRequest struct {
	MasterID         string `json:"master_id" binding:"required"`
	SubmitIntervalMs int    `json:"submit_interval_ms"`
	Concurrency      int    `json:"concurrency"`
}

// executeFamily is shared by the DynamicSandbox and FeatureExtractor
// `/execute` routes; family is bound from the URL by the caller.
func (s *Server) executeFamily(c *gin.Context, family domain.AnalyzerFamily) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperrors.BadRequest(apperrors.CodeValidationFailed, err.Error()))
		return
	}

	ctx := c.Request.Context()
	master, err := s.store.GetMaster(ctx, req.MasterID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			fail(c, apperrors.ErrMasterNotFoundf(req.MasterID))
			return
		}
		fail(c, err)
		return
	}
	if master.AnalyzerFamily != family {
		fail(c, apperrors.ErrInvalidRequestFieldf("master_id"))
		return
	}

	pending := domain.SubTaskPending
	subTasks, err := s.store.ListSubTasksByMaster(ctx, req.MasterID, &pending, 10000, 0)
	if err != nil {
		fail(c, err)
		return
	}

	ids := make([]string, 0, len(subTasks))
	for _, st := range subTasks {
		ids = append(ids, st.ID)
	}

	if err := s.pipeline.SubmitBatch(ctx, ids); err != nil {
		fail(c, err)
		return
	}
	s.aggregator.Trigger(ctx, req.MasterID)
	ok(c, gin.H{"submitted": len(ids)})
}

// ExecuteDynamicSandbox handles POST /api/dynamicsandbox/execute.
func (s *Server) ExecuteDynamicSandbox(c *gin.Context) {
	s.executeFamily(c, domain.FamilyDynamicSandbox)
}

// ExecuteFeatureExtractor handles POST /api/featureextractor/execute.
func (s *Server) ExecuteFeatureExtractor(c *gin.Context) {
	s.executeFamily(c, domain.FamilyFeatureExtractor)
}

// FamilyStatus handles GET /api/<family>/status/{master_id}: the same
// counts-per-status aggregate as GetTaskStatus. The master's
// analyzer_family is not checked against the family in the route.
func (s *Server) FamilyStatus(c *gin.Context) {
	s.GetTaskStatus(c)
}
