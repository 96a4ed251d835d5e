package settings

// Change is one settings mutation delivered to subscribers. Value is empty
// when the key was removed.
type Change struct {
	Key   string
	Value string
}

// Store is the preferences seam handed to components that need settings.
// Implementations are safe for concurrent use.
type Store interface {
	// Get returns the value for key and whether it is set.
	Get(key string) (string, bool)

	// Set stores value under key and persists it.
	Set(key, value string) error

	// Subscribe returns a channel of future changes and a cancel function.
	// Slow subscribers lose changes rather than block the store.
	Subscribe() (<-chan Change, func())
}
