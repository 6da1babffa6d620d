package api

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	"sampleforge.io/orchestrator/internal/domain"
	apperrors "sampleforge.io/orchestrator/internal/pkg/errors"
)

// ExportTaskCSV handles GET /api/tasks/{id}/export.csv: one row per
// sub-task with its result summary, if any (spec §6).
func (s *Server) ExportTaskCSV(c *gin.Context) {
	ctx := c.Request.Context()
	masterID := c.Param("id")

	master, err := s.store.GetMaster(ctx, masterID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			fail(c, apperrors.ErrMasterNotFoundf(masterID))
			return
		}
		fail(c, err)
		return
	}

	subTasks, err := s.store.ListSubTasksByMaster(ctx, masterID, nil, 100000, 0)
	if err != nil {
		fail(c, err)
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, master.ID))
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"sub_task_id", "sample_id", "status", "score", "severity", "verdict", "summary", "report_size"})
	for _, st := range subTasks {
		row := []string{st.ID, st.SampleID, string(st.Status), "", "", "", "", ""}
		if result, err := s.store.GetResultBySubTask(ctx, st.ID); err == nil {
			row[3] = fmt.Sprintf("%.1f", result.Score)
			row[4] = string(result.Severity)
			row[5] = string(result.Verdict)
			row[6] = result.ReportSummary
			row[7] = humanize.Bytes(uint64(len(result.FullReport)))
		}
		_ = w.Write(row)
	}
	w.Flush()
}

// ExportTaskResultsZip handles GET /api/tasks/{id}/results.zip: a ZIP of
// result artifacts — for FeatureExtractor, the stored artifact files; for
// DynamicSandbox, one report.json per sample (spec §6).
func (s *Server) ExportTaskResultsZip(c *gin.Context) {
	ctx := c.Request.Context()
	masterID := c.Param("id")

	master, err := s.store.GetMaster(ctx, masterID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			fail(c, apperrors.ErrMasterNotFoundf(masterID))
			return
		}
		fail(c, err)
		return
	}

	subTasks, err := s.store.ListSubTasksByMaster(ctx, masterID, nil, 100000, 0)
	if err != nil {
		fail(c, err)
		return
	}

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-results.zip"`, master.ID))
	c.Status(http.StatusOK)

	zw := zip.NewWriter(c.Writer)
	defer zw.Close()

	for _, st := range subTasks {
		result, err := s.store.GetResultBySubTask(ctx, st.ID)
		if err != nil {
			continue
		}

		switch master.AnalyzerFamily {
		case domain.FamilyDynamicSandbox:
			f, err := zw.Create(st.SampleID + "/report.json")
			if err != nil {
				continue
			}
			_, _ = f.Write(result.FullReport)
		case domain.FamilyFeatureExtractor:
			for name, key := range result.ResultFiles {
				if err := s.copyObjectIntoZip(ctx, zw, st.SampleID+"/"+name, key); err != nil {
					continue
				}
			}
		}
	}
}

func (s *Server) copyObjectIntoZip(ctx context.Context, zw *zip.Writer, entryName, objectKey string) error {
	rc, err := s.objects.Get(ctx, objectKey)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := zw.Create(entryName)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, rc)
	return err
}
