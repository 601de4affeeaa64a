// Package workers implements the bounded, single-threaded consumer
// stages the sync driver fans every block out to: a cache warmer, the
// main chain-pointer indexer, and the node-registration updater. Each
// satisfies syncdriver.Worker purely structurally.
package workers

// ModuleSet is the immutable, startup-configured feature-flag bitset
// controlling which worker stages run and what they persist.
type ModuleSet uint64

const (
	ModuleBlock ModuleSet = 1 << iota
	ModuleBlockRaw
	ModuleUsers
	ModuleNodeTests
)

// Has reports whether m includes every bit set in flag.
func (m ModuleSet) Has(flag ModuleSet) bool {
	return m&flag == flag
}
