package testutil

import (
	"net/http"

	id "crvs/pkg/domain"
	"crvs/pkg/requestcontext"
)

// WithPractitioner stands in for the auth middleware. A malformed id leaves
// the request anonymous so handlers can be tested for 401 paths too.
func WithPractitioner(req *http.Request, practitionerID string) *http.Request {
	p, err := id.ParsePractitionerID(practitionerID)
	if err != nil {
		return req
	}
	return req.WithContext(requestcontext.WithPractitionerID(req.Context(), p))
}
