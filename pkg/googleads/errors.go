package googleads

import (
	"context"
	"io"
	"net/http"

	gojson "github.com/goccy/go-json"
	"golang.org/x/oauth2"

	"github.com/ajitpratap0/adsync/pkg/clients"
	"github.com/ajitpratap0/adsync/pkg/errors"
)

// maxErrorBody bounds how much of an error response is read
const maxErrorBody = 1 << 20

// Status is the google.rpc.Status carried by API error responses
type Status struct {
	Code    int              `json:"code"`
	Message string           `json:"message"`
	Status  string           `json:"status"`
	Details []map[string]any `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error *Status `json:"error"`
}

// toError maps the status to a typed error. httpStatus is zero for errors
// reported inside a stream, in which case the gRPC status name decides.
func (s *Status) toError(httpStatus int, requestID string) error {
	code := httpStatus
	if code == 0 {
		code = s.Code
	}
	errType := errorTypeFor(code, s.Status)

	msg := s.Message
	if msg == "" {
		msg = http.StatusText(code)
	}
	e := errors.New(errType, "google ads api: "+msg).
		WithDetail("http_status", code).
		WithDetail("status", s.Status)
	if requestID != "" {
		e = e.WithDetail("request_id", requestID)
	}
	if reason := failureReason(s.Details); reason != "" {
		e = e.WithDetail("reason", reason)
	}
	return e
}

// errorTypeFor classifies an HTTP status, falling back on the gRPC status name
func errorTypeFor(httpStatus int, rpcStatus string) errors.ErrorType {
	switch {
	case httpStatus == http.StatusUnauthorized || rpcStatus == "UNAUTHENTICATED":
		return errors.ErrorTypeAuthentication
	case httpStatus == http.StatusForbidden || rpcStatus == "PERMISSION_DENIED":
		return errors.ErrorTypePermission
	case httpStatus == http.StatusTooManyRequests || rpcStatus == "RESOURCE_EXHAUSTED":
		return errors.ErrorTypeRateLimit
	case httpStatus == http.StatusNotFound || rpcStatus == "NOT_FOUND":
		return errors.ErrorTypeNotFound
	case httpStatus == http.StatusGatewayTimeout || rpcStatus == "DEADLINE_EXCEEDED":
		return errors.ErrorTypeTimeout
	case httpStatus >= 500 || rpcStatus == "UNAVAILABLE" || rpcStatus == "INTERNAL":
		return errors.ErrorTypeConnection
	case httpStatus == http.StatusBadRequest || rpcStatus == "INVALID_ARGUMENT":
		return errors.ErrorTypeQuery
	default:
		return errors.ErrorTypeInternal
	}
}

// failureReason extracts the first GoogleAdsFailure error code, e.g.
// queryError: PROHIBITED_RESOURCE_TYPE_IN_SELECT_CLAUSE
func failureReason(details []map[string]any) string {
	for _, d := range details {
		errs, _ := d["errors"].([]any)
		for _, raw := range errs {
			e, _ := raw.(map[string]any)
			code, _ := e["errorCode"].(map[string]any)
			for k, v := range code {
				if s, ok := v.(string); ok {
					return k + ": " + s
				}
			}
		}
	}
	return ""
}

// responseError reads a non-200 response. The body is either a single
// envelope or the array form searchStream uses.
func responseError(resp *http.Response) error {
	requestID := resp.Header.Get("request-id")
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var status *Status
	var list []errorEnvelope
	if err := gojson.Unmarshal(data, &list); err == nil {
		for _, env := range list {
			if env.Error != nil {
				status = env.Error
				break
			}
		}
	} else {
		var env errorEnvelope
		if err := gojson.Unmarshal(data, &env); err == nil {
			status = env.Error
		}
	}

	if status == nil {
		status = &Status{Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return status.toError(resp.StatusCode, requestID)
}

// transportError classifies a failure that produced no response
func transportError(ctx context.Context, err error) error {
	var retrieve *oauth2.RetrieveError
	switch {
	case errors.As(err, &retrieve):
		return errors.Wrap(err, errors.ErrorTypeAuthentication, "failed to obtain access token")
	case errors.Is(err, clients.ErrCircuitOpen):
		return err
	case ctx.Err() != nil:
		return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "request canceled")
	case errors.IsType(err, errors.ErrorTypeTimeout):
		return err
	default:
		return errors.Wrap(err, errors.ErrorTypeConnection, "google ads request failed")
	}
}
