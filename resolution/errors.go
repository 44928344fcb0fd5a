package resolution

import "errors"

var (
	// ErrAmbiguousCorroboratingID means the same identifier is claimed
	// by more than one candidate. Treated as non-decisive: the matcher
	// falls through to the fuzzy tier instead of guessing.
	ErrAmbiguousCorroboratingID = errors.New("corroborating identifier matches multiple candidates")

	// ErrRegistryUnavailable means the registry store failed. Fatal for
	// the current row only; the batch marks the row
	// unresolved-pending-retry and continues.
	ErrRegistryUnavailable = errors.New("registry unavailable")
)
