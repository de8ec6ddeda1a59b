// Package ranking derives leaderboard views from session state.
package ranking

import (
	"sort"

	"codeshare/internal/registry"
	"codeshare/pkg/types"
)

// Service computes rankings on demand. Rosters are classroom-scale, so
// views are built fresh from a snapshot on every request rather than
// kept in a cached index.
type Service struct {
	registry *registry.Registry
}

// NewService creates a ranking service over the session registry.
func NewService(reg *registry.Registry) *Service {
	return &Service{registry: reg}
}

// Rank returns the session's students sorted by points descending,
// ties broken by earliest join. The stable sort over a join-ordered
// snapshot makes the output deterministic for identical inputs.
func (s *Service) Rank(sessionID string) ([]types.StudentSummary, error) {
	sess, ok := s.registry.Lookup(sessionID)
	if !ok {
		return nil, types.NotFoundf("session %s not found", sessionID)
	}

	entries := sess.StudentSummaries()
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Points > entries[j].Points
	})
	return entries, nil
}
