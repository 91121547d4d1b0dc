package commcell

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// SDKError is the error type returned for every failed SDK operation, whether
// the failure happened in transport (non-2xx status, malformed body) or was
// reported by the server through its errorCode/errorMessage envelope.
//
// Use errors.As to recover it from wrapped errors:
//
//	var sdkErr *commcell.SDKError
//	if errors.As(err, &sdkErr) && sdkErr.IsAuthError() {
//	    // re-authenticate
//	}
type SDKError struct {
	// Op is the SDK operation that failed, e.g. "ClientGroups.Add".
	Op string

	// Endpoint is the relative API endpoint the request was sent to.
	Endpoint string

	// HTTPStatus is the HTTP status code of the response, 0 when the
	// request never completed.
	HTTPStatus int

	// Code is the vendor error code from the response envelope. Zero means
	// the server did not report a code (transport-level failure).
	Code int

	// Message is the server-supplied error message, or a description of the
	// transport failure.
	Message string

	// Err is the underlying error for transport failures, nil otherwise.
	Err error
}

func (e *SDKError) Error() string {
	switch {
	case e.Code != 0:
		return fmt.Sprintf("%s: %s (errorCode=%d)", e.Op, e.Message, e.Code)
	case e.HTTPStatus != 0:
		return fmt.Sprintf("%s: %s: HTTP %d: %s", e.Op, e.Endpoint, e.HTTPStatus, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Endpoint, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

func (e *SDKError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether the error represents a missing remote resource.
func (e *SDKError) IsNotFound() bool {
	return e.HTTPStatus == http.StatusNotFound
}

// IsAuthError reports whether the error represents an authentication or
// authorization failure.
func (e *SDKError) IsAuthError() bool {
	return e.HTTPStatus == http.StatusUnauthorized || e.HTTPStatus == http.StatusForbidden
}

// errEnvelope mirrors the shapes the server uses to report failures inside a
// 2xx response. Different endpoint families nest the error node differently,
// so every known location is tried in order.
type errEnvelope struct {
	ErrorCode    int    `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
	ErrorString  string `json:"errorString"`

	Error *struct {
		ErrorCode    int    `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	} `json:"error"`

	ErrList []struct {
		ErrorCode     int    `json:"errorCode"`
		ErrLogMessage string `json:"errLogMessage"`
		ErrorMessage  string `json:"errorMessage"`
	} `json:"errList"`

	Response []struct {
		ErrorCode   int    `json:"errorCode"`
		ErrorString string `json:"errorString"`
	} `json:"response"`
}

// extractVendorError walks the known error-node locations of a decoded
// response body and returns the first non-zero vendor error it finds.
// The boolean result is false when the body carries no error indication.
func extractVendorError(body []byte) (code int, message string, found bool) {
	var env errEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return 0, "", false
	}

	if env.Error != nil && env.Error.ErrorCode != 0 {
		return env.Error.ErrorCode, env.Error.ErrorMessage, true
	}
	if env.ErrorCode != 0 {
		msg := env.ErrorMessage
		if msg == "" {
			msg = env.ErrorString
		}
		return env.ErrorCode, msg, true
	}
	if len(env.ErrList) > 0 && env.ErrList[0].ErrorCode != 0 {
		msg := env.ErrList[0].ErrorMessage
		if msg == "" {
			msg = env.ErrList[0].ErrLogMessage
		}
		return env.ErrList[0].ErrorCode, msg, true
	}
	if len(env.Response) > 0 && env.Response[0].ErrorCode != 0 {
		return env.Response[0].ErrorCode, env.Response[0].ErrorString, true
	}

	return 0, "", false
}

// decodeJSON unmarshals a raw response body into target.
func decodeJSON(body []byte, target interface{}) error {
	return json.Unmarshal(body, target)
}

// bodyPreview truncates a response body for inclusion in error messages.
func bodyPreview(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
