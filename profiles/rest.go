package profiles

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const profilesPath = "/rest/v1/profiles"

// DefaultTimeout bounds a profile read when no http.Client is supplied.
const DefaultTimeout = 10 * time.Second

var _ Repo = (*RESTRepo)(nil)

// RESTRepo reads profiles through the backend's row-level REST endpoint.
type RESTRepo struct {
	baseURL   string
	publicKey string
	client    *http.Client
}

type RESTRepoOption func(*RESTRepo)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(c *http.Client) RESTRepoOption {
	return func(r *RESTRepo) {
		r.client = c
	}
}

func NewRESTRepo(baseURL, publicKey string, options ...RESTRepoOption) *RESTRepo {
	r := &RESTRepo{
		baseURL:   strings.TrimRight(baseURL, "/"),
		publicKey: publicKey,
		client:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// GetByID returns the first row of GET /rest/v1/profiles?id=eq.<id>.
func (r *RESTRepo) GetByID(ctx context.Context, id, bearer string) (*Profile, error) {
	if bearer == "" {
		bearer = r.publicKey
	}

	q := url.Values{}
	q.Set("id", "eq."+id)
	q.Set("select", "*")
	endpoint := r.baseURL + profilesPath + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "[RESTRepo.GetByID] NewRequest")
	}
	req.Header.Set("apikey", r.publicKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "[RESTRepo.GetByID] Do")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "[RESTRepo.GetByID] read body")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("[RESTRepo.GetByID] status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rows []Profile
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, errors.Wrap(err, "[RESTRepo.GetByID] decode")
	}
	if len(rows) == 0 {
		return nil, ErrProfileNotFound
	}
	return &rows[0], nil
}
