package handlers

import (
	"net/http"

	apperrors "github.com/3leaps/batchlens/internal/errors"
)

// httpErrorResponder writes error envelopes for every handler in this
// package. Tests and embedders may swap it.
var httpErrorResponder = apperrors.RespondWithError

// SetHTTPErrorResponder replaces the error responder; nil restores the
// default.
func SetHTTPErrorResponder(fn func(http.ResponseWriter, *http.Request, error)) {
	if fn == nil {
		httpErrorResponder = apperrors.RespondWithError
		return
	}
	httpErrorResponder = fn
}

// ResetHTTPErrorResponder restores the default responder.
func ResetHTTPErrorResponder() {
	httpErrorResponder = apperrors.RespondWithError
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}
