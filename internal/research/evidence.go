package research

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/property-research/internal/model"
)

// Hash returns the content address of a finding. It depends only on the
// trimmed category, claim and source URL. Each field is length-prefixed so
// no two distinct triples share an encoding.
func Hash(category, claim, sourceURL string) string {
	h := sha256.New()
	for _, f := range []string{category, claim, sourceURL} {
		f = strings.TrimSpace(f)
		fmt.Fprintf(h, "%d:%s", len(f), f)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Aggregator turns worker evidence drafts into scored, content-addressed
// Evidence rows.
type Aggregator struct {
	Trust DomainTrust
}

// Rows normalizes drafts for one worker. Drafts without a claim are dropped
// and duplicate hashes within the batch collapse to the first occurrence.
func (a *Aggregator) Rows(job *model.AgenticJob, worker string, drafts []EvidenceDraft, capturedAt time.Time) []model.Evidence {
	seen := make(map[string]bool, len(drafts))
	out := make([]model.Evidence, 0, len(drafts))
	for _, d := range drafts {
		category := strings.TrimSpace(d.Category)
		claim := strings.TrimSpace(d.Claim)
		source := strings.TrimSpace(d.SourceURL)
		if claim == "" {
			continue
		}
		if category == "" {
			category = worker
		}

		hash := Hash(category, claim, source)
		if seen[hash] {
			continue
		}
		seen[hash] = true

		out = append(out, model.Evidence{
			ResearchPropertyID: job.ResearchPropertyID,
			JobID:              job.ID,
			WorkerName:         worker,
			Category:           category,
			Claim:              claim,
			SourceURL:          source,
			CapturedAt:         capturedAt,
			RawExcerpt:         d.RawExcerpt,
			Confidence:         a.confidence(d),
			Hash:               hash,
		})
	}
	return out
}

func (a *Aggregator) confidence(d EvidenceDraft) float64 {
	if d.Confidence == nil {
		return a.Trust.Score(d.SourceURL)
	}
	return min(max(*d.Confidence, 0), 1)
}
