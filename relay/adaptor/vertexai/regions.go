package vertexai

import (
	"strings"
	"sync/atomic"
)

// regionRing rotates through the regions a model family is deployed in.
type regionRing struct {
	regions []string
	cursor  atomic.Uint64
}

func newRegionRing(regions ...string) *regionRing {
	return &regionRing{regions: regions}
}

func (r *regionRing) next() string {
	idx := r.cursor.Add(1) - 1
	return r.regions[idx%uint64(len(r.regions))]
}

// Region rings per model family, following the published Vertex AI
// availability lists.
var (
	claudeSonnet35 = newRegionRing("us-east5", "europe-west1")
	claudeSonnet3  = newRegionRing("us-east5", "us-central1", "asia-southeast1")
	claudeOpus3    = newRegionRing("us-east5")
	claude4        = newRegionRing("us-east5", "europe-west1", "asia-east1")
	claudeHaiku3   = newRegionRing("us-east5", "us-central1", "europe-west1", "europe-west4")

	gemini1 = newRegionRing(
		"us-central1", "us-east4", "us-west1", "us-west4", "europe-west1", "europe-west2")
	gemini25 = newRegionRing(
		"us-central1", "us-east1", "us-east4", "us-east5", "us-south1",
		"us-west1", "us-west4", "europe-central2", "europe-north1",
		"europe-southwest1", "europe-west1", "europe-west4", "europe-west8",
		"europe-west9")
	geminiGlobal = newRegionRing("global")
)

// regionFor picks the next region for the upstream model id.
func regionFor(actualModel string) string {
	switch {
	case strings.Contains(actualModel, "gemini-2.5-flash-image-preview"),
		strings.Contains(actualModel, "gemini-3-pro"):
		return geminiGlobal.next()
	case strings.Contains(actualModel, "gemini-2.5"):
		return gemini25.next()
	case strings.Contains(actualModel, "gemini"):
		return gemini1.next()
	case strings.Contains(actualModel, "claude-3-5-sonnet"),
		strings.Contains(actualModel, "claude-3-7-sonnet"),
		strings.Contains(actualModel, "4-5@"):
		return claudeSonnet35.next()
	case strings.Contains(actualModel, "claude-3-opus"):
		return claudeOpus3.next()
	case strings.Contains(actualModel, "claude-sonnet-4"),
		strings.Contains(actualModel, "claude-opus-4"):
		return claude4.next()
	case strings.Contains(actualModel, "claude-3-sonnet"):
		return claudeSonnet3.next()
	case strings.Contains(actualModel, "claude-3-haiku"):
		return claudeHaiku3.next()
	default:
		return "us-central1"
	}
}
