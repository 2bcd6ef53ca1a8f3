package storage

import (
	"github.com/jrsteele09/go-storefront-auth/token"
	"github.com/pkg/errors"
)

// KeyStore is a storage adapter bound to exactly one key. A backend client
// only ever receives its own KeyStore, so it cannot touch another session's entry.
type KeyStore struct {
	repo Repo
	key  string
}

// Bind returns a KeyStore that reads and writes only key.
func Bind(repo Repo, key string) *KeyStore {
	return &KeyStore{repo: repo, key: key}
}

func (k *KeyStore) Key() string {
	return k.key
}

// Load returns the persisted bundle, or nil when nothing is stored.
func (k *KeyStore) Load() (*token.Bundle, error) {
	raw, ok, err := k.repo.GetItem(k.key)
	if err != nil {
		return nil, errors.Wrapf(err, "[KeyStore.Load] %s", k.key)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	b, err := token.ParseBundle([]byte(raw))
	if err != nil {
		return nil, errors.Wrapf(err, "[KeyStore.Load] %s", k.key)
	}
	return b, nil
}

func (k *KeyStore) Save(b *token.Bundle) error {
	if b == nil {
		return k.Clear()
	}
	raw, err := b.Marshal()
	if err != nil {
		return errors.Wrap(err, "[KeyStore.Save] marshal")
	}
	if err := k.repo.SetItem(k.key, string(raw)); err != nil {
		return errors.Wrapf(err, "[KeyStore.Save] %s", k.key)
	}
	return nil
}

func (k *KeyStore) Clear() error {
	if err := k.repo.RemoveItem(k.key); err != nil {
		return errors.Wrapf(err, "[KeyStore.Clear] %s", k.key)
	}
	return nil
}
