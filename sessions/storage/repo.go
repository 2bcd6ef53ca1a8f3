package storage

// Repo is the persistent key/value store shared by every session, the
// equivalent of the browser's local storage. Implementations must be safe for
// concurrent use.
type Repo interface {
	// GetItem returns the stored value and whether the key exists
	GetItem(key string) (string, bool, error)

	// SetItem stores value under key, replacing any previous value
	SetItem(key, value string) error

	// RemoveItem deletes key; removing a missing key is not an error
	RemoveItem(key string) error
}
