package insight

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/vpbank/opsdash/models"
	"github.com/vpbank/opsdash/pkg/opsdash/observability"
)

// Random annotates with a uniformly chosen phrase from Vocabulary. Its output
// is intentionally non-deterministic.
type Random struct {
	metrics *observability.Metrics
}

// NewRandom returns the canned strategy.
func NewRandom(metrics *observability.Metrics) *Random {
	return &Random{metrics: metrics}
}

// Insight returns "AI: <status> - <phrase>".
func (r *Random) Insight(_ context.Context, _ string, state models.ModuleState) string {
	r.metrics.InsightRequest(ProviderRandom, "ok")
	status := state.Status
	if status == "" {
		status = "Unknown"
	}
	return fmt.Sprintf("AI: %s - %s", status, Vocabulary[rand.IntN(len(Vocabulary))])
}

// Ask has no model behind it.
func (r *Random) Ask(context.Context, string, string) string {
	r.metrics.InsightRequest(ProviderRandom, "unavailable")
	return Unavailable
}
