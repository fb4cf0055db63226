package metacache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them from inside the row loop.
type Hooks interface {
	// A row was dropped by a population and the rest of the stream continued.
	// op ∈ {"load", "lookup", "refresh", "load children", "refresh children"}
	RowSkipped(namespace, op string, err error)

	// A population was aborted by a source-level or fatal row error.
	PopulationFailed(namespace, op string, err error)

	// A population was cancelled after consuming rows rows.
	PopulationCancelled(namespace, op string, rows int)

	// A snapshot entry was deleted on read.
	// reason ∈ {"corrupt", "scope_mismatch", "gen_mismatch", "value_decode"}
	SnapshotRejected(storageKey, reason string)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string, isBulk bool)

	// GenStore errors (snapshot or bump).
	GenSnapshotError(storageKey string, err error)
	GenBumpError(storageKey string, err error)

	// Both gen bump and delete failed during invalidation (likely backend outage).
	InvalidateOutage(storageKey string, bumpErr, delErr error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) RowSkipped(string, string, error)        {}
func (NopHooks) PopulationFailed(string, string, error)  {}
func (NopHooks) PopulationCancelled(string, string, int) {}
func (NopHooks) SnapshotRejected(string, string)         {}
func (NopHooks) ProviderSetRejected(string, bool)        {}
func (NopHooks) GenSnapshotError(string, error)          {}
func (NopHooks) GenBumpError(string, error)              {}
func (NopHooks) InvalidateOutage(string, error, error)   {}
