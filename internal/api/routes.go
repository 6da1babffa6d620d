package api

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts every spec §6 route onto router under /api/v1.
func RegisterRoutes(router *gin.Engine, s *Server) {
	v1 := router.Group("/api/v1")

	tasks := v1.Group("/tasks")
	tasks.POST("", s.CreateTask)
	tasks.POST("/by-filter", s.CreateTaskByFilter)
	tasks.GET("", s.ListTasks)
	tasks.GET("/:id", s.GetTask)
	tasks.GET("/:id/status", s.GetTaskStatus)
	tasks.POST("/:id/pause", s.PauseTask)
	tasks.POST("/:id/resume", s.ResumeTask)
	tasks.DELETE("/:id", s.DeleteTask)
	tasks.GET("/:id/sub-tasks", s.ListSubTasks)
	tasks.GET("/:id/export.csv", s.ExportTaskCSV)
	tasks.GET("/:id/results.zip", s.ExportTaskResultsZip)

	v1.POST("/dynamicsandbox/execute", s.ExecuteDynamicSandbox)
	v1.GET("/dynamicsandbox/status/:id", s.FamilyStatus)
	v1.POST("/featureextractor/execute", s.ExecuteFeatureExtractor)
	v1.GET("/featureextractor/status/:id", s.FamilyStatus)

	v1.GET("/analysis/dynamicsandbox/:id", s.GetAnalysisResult)
	v1.GET("/analysis/featureextractor/:id", s.GetAnalysisResult)

	dsInstances := v1.Group("/dynamicsandbox-instances")
	dsInstances.POST("", s.CreateDynamicSandboxInstance)
	dsInstances.GET("", s.ListDynamicSandboxInstances)
	dsInstances.PUT("/:id", s.UpdateDynamicSandboxInstance)
	dsInstances.DELETE("/:id", s.DeleteDynamicSandboxInstance)
	dsInstances.GET("/:id/health", s.GetDynamicSandboxInstanceHealth)

	cfgInstances := v1.Group("/featureextractor-instances")
	cfgInstances.POST("", s.CreateFeatureExtractorInstance)
	cfgInstances.GET("", s.ListFeatureExtractorInstances)
	cfgInstances.PUT("/:id", s.UpdateFeatureExtractorInstance)
	cfgInstances.DELETE("/:id", s.DeleteFeatureExtractorInstance)
	cfgInstances.GET("/:id/health", s.GetFeatureExtractorInstanceHealth)
}
