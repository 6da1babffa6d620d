package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"sampleforge.io/orchestrator/internal/backend"
	"sampleforge.io/orchestrator/internal/domain"
	"sampleforge.io/orchestrator/internal/pkg/logger"
	"sampleforge.io/orchestrator/internal/store"
)

// countingReader tracks how many bytes have passed through Read, so an
// artifact's size can be logged without buffering it twice.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// featureExtractorReport is the subset of the backend's report manifest this
// fetcher reads. result_files maps a logical artifact name to a
// backend-side reference; after this fetcher downloads each artifact, the
// value is replaced with the orchestrator's own object-store key (spec §4.6
// step 2).
type featureExtractorReport struct {
	Message     string            `json:"message"`
	ResultFiles map[string]string `json:"result_files"`
}

// buildFeatureExtractorResult downloads every artifact named in the report's
// result_files and re-homes it in the object store, returning params ready
// for store.InsertResult.
func (f *Fetcher) buildFeatureExtractorResult(ctx context.Context, client backend.Client, id, subTaskID, externalID string, raw []byte) (store.InsertResultParams, error) {
	sanitized := domain.SanitizeJSONNuls(raw)

	var r featureExtractorReport
	if err := json.Unmarshal(sanitized, &r); err != nil {
		return store.InsertResultParams{}, fmt.Errorf("parse feature extractor report: %w", err)
	}

	stored := make(map[string]string, len(r.ResultFiles))
	for name := range r.ResultFiles {
		artifact, err := client.DownloadArtifact(ctx, externalID, name)
		if err != nil {
			return store.InsertResultParams{}, fmt.Errorf("download artifact %q: %w", name, err)
		}
		key := fmt.Sprintf("cfg/%s/%s", externalID, name)
		cr := &countingReader{r: artifact}
		storedKey, err := f.objects.Put(ctx, key, cr)
		artifact.Close()
		if err != nil {
			return store.InsertResultParams{}, fmt.Errorf("store artifact %q: %w", name, err)
		}
		logger.Debug("Stored feature extractor artifact",
			zap.String("sub_task_id", subTaskID), zap.String("name", name),
			zap.String("size", humanize.Bytes(uint64(cr.n))))
		stored[name] = storedKey
	}

	resultFiles, err := json.Marshal(stored)
	if err != nil {
		resultFiles = []byte("{}")
	}

	return store.InsertResultParams{
		ID:          id,
		SubTaskID:   subTaskID,
		CapeTaskID:  externalID,
		Message:     r.Message,
		ResultFiles: resultFiles,
		FullReport:  sanitized,
	}, nil
}
