package filestore_test

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jrsteele09/go-storefront-auth/sessions/storage/filestore"
	"github.com/stretchr/testify/require"
)

func TestStorePersistsAcrossInstances(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	s, err := filestore.New(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "sessions.json"), s.Path())

	_, ok, err := s.GetItem("missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SetItem("sb-abcd-auth-token-admin", `{"access_token":"x"}`))
	require.NoError(t, s.SetItem("sb-abcd-auth-token-seller", `{"access_token":"y"}`))
	require.NoError(t, s.RemoveItem("sb-abcd-auth-token-seller"))
	require.NoError(t, s.RemoveItem("never-set"))

	reopened, err := filestore.New(dir)
	require.NoError(t, err)
	v, ok, err := reopened.GetItem("sb-abcd-auth-token-admin")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"access_token":"x"}`, v)

	_, ok, err = reopened.GetItem("sb-abcd-auth-token-seller")
	require.NoError(t, err)
	require.False(t, ok)

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestStoreCorruptFile(t *testing.T) {
	dir := t.TempDir()
	s, err := filestore.New(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{oops"), 0o600))

	_, _, err = s.GetItem("k")
	require.Error(t, err)
}

func TestStoreConcurrentWriters(t *testing.T) {
	s, err := filestore.New(t.TempDir())
	require.NoError(t, err)

	keys := []string{"a", "b", "c", "d", "e", "f"}
	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.SetItem(k, k+"-value")
		}()
	}
	wg.Wait()

	for _, k := range keys {
		v, ok, err := s.GetItem(k)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, k+"-value", v)
	}
}

func TestStoresSharingAFolderKeepEachOthersKeys(t *testing.T) {
	folder := t.TempDir()
	first, err := filestore.New(folder)
	require.NoError(t, err)
	second, err := filestore.New(folder)
	require.NoError(t, err)

	const perStore = 20
	var wg sync.WaitGroup
	for i := range perStore {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = first.SetItem(fmt.Sprintf("first-%d", i), "v")
		}()
		go func() {
			defer wg.Done()
			_ = second.SetItem(fmt.Sprintf("second-%d", i), "v")
		}()
	}
	wg.Wait()

	reader, err := filestore.New(folder)
	require.NoError(t, err)
	for i := range perStore {
		for _, prefix := range []string{"first", "second"} {
			_, ok, err := reader.GetItem(fmt.Sprintf("%s-%d", prefix, i))
			require.NoError(t, err)
			require.True(t, ok, "%s-%d lost", prefix, i)
		}
	}
}
