package fetcher

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"

	"sampleforge.io/orchestrator/internal/domain"
	"sampleforge.io/orchestrator/internal/store"
)

// dynamicSandboxReport is the subset of the backend's report manifest this
// fetcher reads (spec §4.6 step 2). The manifest carries many more fields;
// everything is retained verbatim in FullReport, this struct only pulls out
// what drives score/severity/verdict and the summary line.
type dynamicSandboxReport struct {
	Info struct {
		Score    float64 `json:"score"`
		Started  string  `json:"started"`
		Ended    string  `json:"ended"`
		Duration float64 `json:"duration"`
	} `json:"info"`
	Signatures []json.RawMessage `json:"signatures"`
	Behavior   json.RawMessage   `json:"behavior"`
	Network    struct {
		Domains []struct {
			Domain string `json:"domain"`
		} `json:"domains"`
	} `json:"network"`
}

func buildDynamicSandboxResult(id, subTaskID, externalID string, raw []byte) (store.InsertResultParams, error) {
	sanitized := domain.SanitizeJSONNuls(raw)

	var r dynamicSandboxReport
	if err := json.Unmarshal(sanitized, &r); err != nil {
		return store.InsertResultParams{}, fmt.Errorf("parse dynamic sandbox report: %w", err)
	}

	uniqueDomains := make(map[string]struct{}, len(r.Network.Domains))
	for _, d := range r.Network.Domains {
		if d.Domain != "" {
			uniqueDomains[d.Domain] = struct{}{}
		}
	}

	signatures, err := json.Marshal(r.Signatures)
	if err != nil {
		signatures = []byte("[]")
	}

	summary := fmt.Sprintf("score=%.1f signatures=%s unique_domains=%s report_size=%s",
		r.Info.Score, humanize.Comma(int64(len(r.Signatures))), humanize.Comma(int64(len(uniqueDomains))),
		humanize.Bytes(uint64(len(sanitized))))

	return store.InsertResultParams{
		ID:              id,
		SubTaskID:       subTaskID,
		CapeTaskID:      externalID,
		Score:           r.Info.Score,
		Severity:        domain.DeriveSeverity(r.Info.Score),
		Verdict:         domain.DeriveVerdict(r.Info.Score),
		Signatures:      signatures,
		BehaviorSummary: r.Behavior,
		ReportSummary:   summary,
		FullReport:      sanitized,
	}, nil
}
