package profiles

import "net/http"

// HTTPClient exposes the client a RESTRepo sends requests with.
func HTTPClient(r *RESTRepo) *http.Client {
	return r.client
}
