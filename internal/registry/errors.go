package registry

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnexpectedStatus is wrapped by errors raised for non-success HTTP
// responses.
var ErrUnexpectedStatus = errors.New("unexpected response status")

// AuthError reports a failure to obtain a bearer token for a scope: the token
// request failed, returned a non-success status, or its body did not contain
// a token.
type AuthError struct {
	Scope      string
	StatusCode int // zero when no response was received
	Err        error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("token request for scope %q failed: %v", e.Scope, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// RegistryError reports a failed tag listing or manifest fetch. Tag is empty
// for tag listing failures.
type RegistryError struct {
	Op         string // "tags" or "manifest"
	Image      string
	Tag        string
	StatusCode int // zero when no response was received
	Err        error
}

func (e *RegistryError) Error() string {
	ref := e.Image
	if e.Tag != "" {
		ref += ":" + e.Tag
	}
	return fmt.Sprintf("registry %s request for %s failed: %v", e.Op, ref, e.Err)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

// NotFound reports whether the registry answered 404, e.g. when a tag of the
// derived image does not exist for the base image.
func (e *RegistryError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

const maxExcerpt = 200

// statusError describes a non-success response, including a short excerpt of
// the body to help diagnose registry error payloads.
func statusError(res *http.Response, body []byte) error {
	excerpt := strings.TrimSpace(string(body))
	if len(excerpt) > maxExcerpt {
		// drop any rune split by the cut
		excerpt = strings.ToValidUTF8(excerpt[:maxExcerpt], "") + "..."
	}
	if excerpt == "" {
		return fmt.Errorf("%w: %s", ErrUnexpectedStatus, res.Status)
	}
	return fmt.Errorf("%w: %s: %s", ErrUnexpectedStatus, res.Status, excerpt)
}
