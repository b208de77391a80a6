package dispatch

import "firecore/store"

// Ranker orders reservation candidates for a dispatch. The cap and the
// skip-on-conflict walk are applied after ranking.
type Ranker interface {
	Rank(d *store.Dispatch, report *store.Report, candidates []*store.Unit) []*store.Unit
}

// RegistryOrder keeps the registry's enumeration order (unit id ascending).
// Distance and capability ranking are not implemented; see DESIGN.md.
type RegistryOrder struct{}

func (RegistryOrder) Rank(_ *store.Dispatch, _ *store.Report, candidates []*store.Unit) []*store.Unit {
	return candidates
}
