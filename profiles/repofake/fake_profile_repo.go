package fakeprofilerepo

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-storefront-auth/profiles"
)

var _ profiles.Repo = (*FakeProfileRepo)(nil)

// FakeProfileRepo is an in-memory profile table. Err, when set, is returned by every read.
type FakeProfileRepo struct {
	profiles map[string]*profiles.Profile
	bearers  []string
	Err      error
	lock     sync.RWMutex
}

func NewFakeProfileRepo() *FakeProfileRepo {
	return &FakeProfileRepo{
		profiles: make(map[string]*profiles.Profile),
	}
}

func (pr *FakeProfileRepo) Upsert(p *profiles.Profile) {
	pr.lock.Lock()
	defer pr.lock.Unlock()

	cp := *p
	pr.profiles[p.ID] = &cp
}

func (pr *FakeProfileRepo) Delete(id string) {
	pr.lock.Lock()
	defer pr.lock.Unlock()

	delete(pr.profiles, id)
}

func (pr *FakeProfileRepo) SetErr(err error) {
	pr.lock.Lock()
	defer pr.lock.Unlock()

	pr.Err = err
}

func (pr *FakeProfileRepo) GetByID(_ context.Context, id, bearer string) (*profiles.Profile, error) {
	pr.lock.Lock()
	defer pr.lock.Unlock()

	pr.bearers = append(pr.bearers, bearer)
	if pr.Err != nil {
		return nil, pr.Err
	}
	p, ok := pr.profiles[id]
	if !ok {
		return nil, profiles.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

// Bearers returns every bearer token presented so far, in order.
func (pr *FakeProfileRepo) Bearers() []string {
	pr.lock.RLock()
	defer pr.lock.RUnlock()

	return append([]string(nil), pr.bearers...)
}
