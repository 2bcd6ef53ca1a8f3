package memory

import (
	"github.com/jrsteele09/go-storefront-auth/sessions/storage"
	"github.com/patrickmn/go-cache"
)

var _ storage.Repo = (*Store)(nil)

// Store keeps entries in process memory. Entries never expire on their own;
// token lifetime is decided by the token itself.
type Store struct {
	cache *cache.Cache
}

func New() *Store {
	return &Store{cache: cache.New(cache.NoExpiration, 0)}
}

func (s *Store) GetItem(key string) (string, bool, error) {
	v, ok := s.cache.Get(key)
	if !ok {
		return "", false, nil
	}
	str, _ := v.(string)
	return str, true, nil
}

func (s *Store) SetItem(key, value string) error {
	s.cache.Set(key, value, cache.NoExpiration)
	return nil
}

func (s *Store) RemoveItem(key string) error {
	s.cache.Delete(key)
	return nil
}

// Keys lists the stored keys, mostly useful for diagnostics and tests.
func (s *Store) Keys() []string {
	items := s.cache.Items()
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	return keys
}
