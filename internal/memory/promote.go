package memory

import (
	"context"

	"github.com/odgrim/abathur/internal/store"
)

// DefaultPromotionThreshold is k in "promotion requires
// |distinct_accessors| >= k" (default k=3).
const DefaultPromotionThreshold = 3

// nextTier returns the tier above cur, or ("", false) if cur is already
// the top tier.
func nextTier(cur store.MemoryTier) (store.MemoryTier, bool) {
	switch cur {
	case store.MemoryTierWorking:
		return store.MemoryTierEpisodic, true
	case store.MemoryTierEpisodic:
		return store.MemoryTierSemantic, true
	default:
		return "", false
	}
}

// RecordAccessAndMaybePromote records accessorID's access to mem and
// promotes it one tier if that access pushed the distinct-accessor count
// to the threshold, so a single agent's repeated reads can never
// self-promote a fact.
func RecordAccessAndMaybePromote(ctx context.Context, repo *store.MemoryRepo, memID, accessorID string, threshold int) (store.Memory, bool, error) {
	if threshold <= 0 {
		threshold = DefaultPromotionThreshold
	}
	updated, err := repo.RecordAccess(ctx, memID, accessorID)
	if err != nil {
		return store.Memory{}, false, err
	}
	target, ok := nextTier(updated.Tier)
	if !ok || len(updated.DistinctAccessors) < threshold {
		return updated, false, nil
	}
	if err := repo.Promote(ctx, memID, target); err != nil {
		return updated, false, err
	}
	updated.Tier = target
	updated.Version++
	return updated, true, nil
}
