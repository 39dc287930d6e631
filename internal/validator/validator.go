/*
Package validator is the Request Validator: it checks an inbound /dns-query request's dns query
param (GET) or content-type and body (POST), returning the still-encoded dns param or the raw body
bytes ready for the Racing Dispatcher. The request method is not checked here; the HTTP Handler
does that. It never inspects the DNS wire format itself - the payload is treated as an opaque
binary blob per RFC 8484.
*/
package validator

import (
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/dohrelay/dohrelay/internal/constants"
)

// dnsParamPattern is the base64url alphabet with no padding, per RFC 8484 and spec.md §4.4. Padded
// base64url ("=" suffix) is deliberately rejected - RFC 8484 permits unpadded only.
var dnsParamPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Error is a validator failure carrying the HTTP status code the Handler should return.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return e.Message
}

func fail(status int, msg string) error {
	return &Error{StatusCode: status, Message: msg}
}

// GETQueryParam validates the dns query parameter of a GET request and returns it verbatim (still
// base64url-encoded; the Racing Dispatcher concatenates it directly into the outbound URL rather
// than round-tripping through a decode/re-encode).
func GETQueryParam(r *http.Request) (string, error) {
	dns := strings.TrimSpace(r.URL.Query().Get(constants.Get().Rfc8484QueryParam))
	if len(dns) == 0 {
		return "", fail(http.StatusBadRequest, "missing dns query parameter")
	}
	if !dnsParamPattern.MatchString(dns) {
		return "", fail(http.StatusBadRequest, "dns query parameter is not valid unpadded base64url")
	}

	return dns, nil
}

// POSTBody validates the content-type (if present) and reads the full POST body. An empty body is
// rejected. Body size is bounded by maxBody to avoid an unbounded read from an adversarial client;
// RFC 8484 messages are small, so this is generous rather than tight.
func POSTBody(r *http.Request, maxBody int64) ([]byte, error) {
	if ct := r.Header.Get(constants.Get().ContentTypeHeader); len(ct) > 0 {
		if !strings.Contains(ct, constants.Get().Rfc8484AcceptValue) {
			return nil, fail(http.StatusUnsupportedMediaType,
				"content-type must contain "+constants.Get().Rfc8484AcceptValue)
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fail(http.StatusBadRequest, "could not read request body: "+err.Error())
	}
	if int64(len(body)) > maxBody {
		return nil, fail(http.StatusBadRequest, "request body exceeds maximum size")
	}
	if len(body) == 0 {
		return nil, fail(http.StatusBadRequest, "empty POST body")
	}

	return body, nil
}
