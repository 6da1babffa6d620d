package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	apperrors "sampleforge.io/orchestrator/internal/pkg/errors"
)

// GetAnalysisResult handles GET /api/analysis/<family>/{sub_task_id_or_result_id}
// (spec §6). The path segment may name either a result row directly or the
// sub-task that owns it; a result lookup is tried first since result ids and
// sub-task ids are both opaque UUIDs drawn from the same id space.
func (s *Server) GetAnalysisResult(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	result, err := s.store.GetResult(ctx, id)
	if err == nil {
		ok(c, result)
		return
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		fail(c, err)
		return
	}

	result, err = s.store.GetResultBySubTask(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			fail(c, apperrors.New(apperrors.CodeResultNotFound, "analysis result not found: "+id, http.StatusNotFound))
			return
		}
		fail(c, err)
		return
	}
	ok(c, result)
}
