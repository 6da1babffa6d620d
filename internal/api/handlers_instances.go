package api

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"sampleforge.io/orchestrator/internal/domain"
	apperrors "sampleforge.io/orchestrator/internal/pkg/errors"
	"sampleforge.io/orchestrator/internal/store"
)

// createInstanceRequest is the body of POST /api/<family>-instances (spec §6
// "Instance CRUD + health endpoints", spec §4.2 create).
type createInstanceRequest struct {
	Name                    string `json:"name" binding:"required"`
	BaseURL                 string `json:"base_url" binding:"required"`
	Enabled                 bool   `json:"enabled"`
	MaxConcurrentTasks      int    `json:"max_concurrent_tasks"`
	HealthCheckIntervalSecs int    `json:"health_check_interval_secs"`
}

// CreateDynamicSandboxInstance handles POST /api/dynamicsandbox-instances.
func (s *Server) CreateDynamicSandboxInstance(c *gin.Context) {
	s.createInstance(c, domain.FamilyDynamicSandbox)
}

// CreateFeatureExtractorInstance handles POST /api/featureextractor-instances.
func (s *Server) CreateFeatureExtractorInstance(c *gin.Context) {
	s.createInstance(c, domain.FamilyFeatureExtractor)
}

func (s *Server) createInstance(c *gin.Context, family domain.AnalyzerFamily) {
	reg := s.registries.For(family)
	if reg == nil {
		fail(c, apperrors.ErrInvalidRequestFieldf("family"))
		return
	}

	var req createInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperrors.BadRequest(apperrors.CodeValidationFailed, err.Error()))
		return
	}

	id := uuid.NewString()
	if err := reg.CreateInstance(c.Request.Context(), store.CreateInstanceParams{
		ID:                      id,
		Family:                  family,
		Name:                    req.Name,
		BaseURL:                 req.BaseURL,
		Enabled:                 req.Enabled,
		MaxConcurrentTasks:      req.MaxConcurrentTasks,
		HealthCheckIntervalSecs: req.HealthCheckIntervalSecs,
	}); err != nil {
		fail(c, err)
		return
	}

	instance, err := reg.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	created(c, instance)
}

// ListDynamicSandboxInstances handles GET /api/dynamicsandbox-instances.
func (s *Server) ListDynamicSandboxInstances(c *gin.Context) {
	s.listInstances(c, domain.FamilyDynamicSandbox)
}

// ListFeatureExtractorInstances handles GET /api/featureextractor-instances.
func (s *Server) ListFeatureExtractorInstances(c *gin.Context) {
	s.listInstances(c, domain.FamilyFeatureExtractor)
}

func (s *Server) listInstances(c *gin.Context, family domain.AnalyzerFamily) {
	reg := s.registries.For(family)
	if reg == nil {
		fail(c, apperrors.ErrInvalidRequestFieldf("family"))
		return
	}

	var enabledOnly *bool
	if v := c.Query("enabled"); v != "" {
		b := v == "true"
		enabledOnly = &b
	}
	var status *domain.InstanceStatus
	if v := domain.InstanceStatus(c.Query("status")); v != "" {
		status = &v
	}

	instances, err := reg.List(c.Request.Context(), enabledOnly, status)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, instances)
}

// updateInstanceRequest is the body of PUT /api/<family>-instances/{id}.
type updateInstanceRequest struct {
	Name                    string `json:"name" binding:"required"`
	BaseURL                 string `json:"base_url" binding:"required"`
	Enabled                 bool   `json:"enabled"`
	MaxConcurrentTasks      int    `json:"max_concurrent_tasks"`
	HealthCheckIntervalSecs int    `json:"health_check_interval_secs"`
}

// UpdateDynamicSandboxInstance handles PUT /api/dynamicsandbox-instances/{id}.
func (s *Server) UpdateDynamicSandboxInstance(c *gin.Context) {
	s.updateInstance(c, domain.FamilyDynamicSandbox)
}

// UpdateFeatureExtractorInstance handles PUT /api/featureextractor-instances/{id}.
func (s *Server) UpdateFeatureExtractorInstance(c *gin.Context) {
	s.updateInstance(c, domain.FamilyFeatureExtractor)
}

func (s *Server) updateInstance(c *gin.Context, family domain.AnalyzerFamily) {
	reg := s.registries.For(family)
	if reg == nil {
		fail(c, apperrors.ErrInvalidRequestFieldf("family"))
		return
	}

	var req updateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperrors.BadRequest(apperrors.CodeValidationFailed, err.Error()))
		return
	}

	id := c.Param("id")
	rows, err := reg.UpdateInstance(c.Request.Context(), store.UpdateInstanceParams{
		ID:                      id,
		Name:                    req.Name,
		BaseURL:                 req.BaseURL,
		Enabled:                 req.Enabled,
		MaxConcurrentTasks:      req.MaxConcurrentTasks,
		HealthCheckIntervalSecs: req.HealthCheckIntervalSecs,
	})
	if err != nil {
		fail(c, err)
		return
	}
	if rows == 0 {
		fail(c, apperrors.NotFound(apperrors.CodeInstanceNotFound, "instance not found: "+id))
		return
	}

	instance, err := reg.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, instance)
}

// DeleteDynamicSandboxInstance handles DELETE /api/dynamicsandbox-instances/{id}.
func (s *Server) DeleteDynamicSandboxInstance(c *gin.Context) {
	s.deleteInstance(c, domain.FamilyDynamicSandbox)
}

// DeleteFeatureExtractorInstance handles DELETE /api/featureextractor-instances/{id}.
func (s *Server) DeleteFeatureExtractorInstance(c *gin.Context) {
	s.deleteInstance(c, domain.FamilyFeatureExtractor)
}

func (s *Server) deleteInstance(c *gin.Context, family domain.AnalyzerFamily) {
	reg := s.registries.For(family)
	if reg == nil {
		fail(c, apperrors.ErrInvalidRequestFieldf("family"))
		return
	}

	id := c.Param("id")
	if _, err := reg.Get(c.Request.Context(), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			fail(c, apperrors.NotFound(apperrors.CodeInstanceNotFound, "instance not found: "+id))
			return
		}
		fail(c, err)
		return
	}

	if err := reg.DeleteInstance(c.Request.Context(), id); err != nil {
		fail(c, apperrors.ErrInstanceInUsef(id))
		return
	}
	ok(c, nil)
}

// GetDynamicSandboxInstanceHealth handles GET /api/dynamicsandbox-instances/{id}/health.
func (s *Server) GetDynamicSandboxInstanceHealth(c *gin.Context) {
	s.getInstanceHealth(c, domain.FamilyDynamicSandbox)
}

// GetFeatureExtractorInstanceHealth handles GET /api/featureextractor-instances/{id}/health.
func (s *Server) GetFeatureExtractorInstanceHealth(c *gin.Context) {
	s.getInstanceHealth(c, domain.FamilyFeatureExtractor)
}

func (s *Server) getInstanceHealth(c *gin.Context, family domain.AnalyzerFamily) {
	reg := s.registries.For(family)
	if reg == nil {
		fail(c, apperrors.ErrInvalidRequestFieldf("family"))
		return
	}

	report, err := reg.HealthCheck(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, report)
}
