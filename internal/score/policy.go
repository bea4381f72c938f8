package score

import (
	"math"
	"time"

	"github.com/ubc-systopia/indaleko/internal/types"
)

// MemoryTier names the retention tiers of the consolidation policy.
// The storage tiers map onto them: hot=sensory, warm=short_term,
// cold=long_term; archival exists in the policy for future use.
type MemoryTier string

const (
	TierSensory   MemoryTier = "sensory"
	TierShortTerm MemoryTier = "short_term"
	TierLongTerm  MemoryTier = "long_term"
	TierArchival  MemoryTier = "archival"
)

// MemoryTierFor maps a storage tier onto its retention tier.
func MemoryTierFor(t types.Tier) MemoryTier {
	switch t {
	case types.TierHot:
		return TierSensory
	case types.TierWarm:
		return TierShortTerm
	case types.TierCold:
		return TierLongTerm
	}
	return TierArchival
}

var retentionBaseDays = map[MemoryTier]int{
	TierSensory:   7,
	TierShortTerm: 90,
	TierLongTerm:  365,
	TierArchival:  3650,
}

// Transition holds the consolidation threshold for one tier promotion.
type Transition struct {
	MinImportance float64
	MinAge        time.Duration
}

var transitions = map[MemoryTier]Transition{
	TierSensory:   {MinImportance: 0.3, MinAge: 12 * time.Hour},    // sensory → short_term
	TierShortTerm: {MinImportance: 0.6, MinAge: 168 * time.Hour},   // short_term → long_term
	TierLongTerm:  {MinImportance: 0.8, MinAge: 8760 * time.Hour},  // long_term → archival
}

// Decay returns the effective importance of a record after age_days,
// without mutating the original score. Important items decay more slowly
// (effective rate = base·(1-0.5·original)), and access count stretches
// retention by 1 + min(10, access_count)·0.05.
func (s *Scorer) Decay(original, ageDays float64, accessCount int64) float64 {
	if ageDays <= 0 {
		return clamp(original, 0.1, 1.0)
	}
	effRate := s.cfg.DecayRate * (1 - 0.5*original)
	stretch := 1 + math.Min(10, float64(accessCount))*0.05
	decayed := original * math.Exp(-effRate*ageDays/stretch)
	return clamp(decayed, 0.1, original)
}

// RetentionDays returns how long a record of the given score should live
// in a tier: base days scaled by 0.5 + 1.5·score.
func (s *Scorer) RetentionDays(score float64, tier MemoryTier) int {
	base, ok := retentionBaseDays[tier]
	if !ok {
		base = retentionBaseDays[TierSensory]
	}
	days := float64(base) * (0.5 + 1.5*clamp(score, 0, 1))
	if days < 1 {
		days = 1
	}
	return int(days)
}

// ShouldConsolidate decides whether a record qualifies for promotion out
// of from. Importance must strictly exceed the transition's floor, and
// higher importance lowers the age requirement: effective min age
// = min_age·(1 - 0.5·score).
func (s *Scorer) ShouldConsolidate(score float64, age time.Duration, from MemoryTier) bool {
	tr, ok := transitions[from]
	if !ok {
		return false
	}
	if score <= tr.MinImportance {
		return false
	}
	effMinAge := time.Duration(float64(tr.MinAge) * (1 - 0.5*clamp(score, 0, 1)))
	return age >= effMinAge
}

// TransitionFor exposes the raw threshold tuple for a tier, mainly for
// statistics output and tests.
func TransitionFor(from MemoryTier) (Transition, bool) {
	tr, ok := transitions[from]
	return tr, ok
}

// CombineImportanceScores aggregates source scores into a summary score:
// 0.7·mean + 0.3·max, clamped to [0.1, 1.0].
func CombineImportanceScores(scores []float64) float64 {
	if len(scores) == 0 {
		return 0.1
	}
	sum, max := 0.0, scores[0]
	for _, sc := range scores {
		sum += sc
		if sc > max {
			max = sc
		}
	}
	mean := sum / float64(len(scores))
	return clamp(0.7*mean+0.3*max, 0.1, 1.0)
}
