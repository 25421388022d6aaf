package scim

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// GatewayError carries an HTTP status alongside the failure message. It is
// created where the failure happens and serialized exactly once at the
// response boundary.
type GatewayError struct {
	Status  int
	Message string
}

func (e *GatewayError) Error() string { return e.Message }

// NewGatewayError builds a GatewayError with an explicit status.
func NewGatewayError(status int, format string, args ...any) *GatewayError {
	return &GatewayError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// StatusOf extracts the HTTP status for err, defaulting to 500.
func StatusOf(err error) int {
	var ge *GatewayError
	if errors.As(err, &ge) && ge.Status != 0 {
		return ge.Status
	}
	return http.StatusInternalServerError
}

// FormatError renders err as the version-specific SCIM error envelope. The
// message is prefixed with the gateway identity so clients can tell a gateway
// failure from an upstream one.
func FormatError(v Version, origin string, status int, err error) map[string]any {
	msg := fmt.Sprintf("scimgate[%s] %s", origin, err.Error())
	if !v.IsV2() {
		return map[string]any{
			"Errors": []map[string]any{
				{"description": msg, "code": status},
			},
		}
	}
	return map[string]any{
		"schemas": []string{V2ErrorSchema},
		"detail":  msg,
		"status":  status,
	}
}

// FormatAPIError renders err for the non-SCIM API route family. If the error
// message itself is a JSON object it is embedded with an originator field,
// otherwise the prefixed plain string is used.
func FormatAPIError(origin string, err error) map[string]any {
	var desc any = fmt.Sprintf("scimgate[%s] %s", origin, err.Error())
	if obj, ok := tryParseObject(err.Error()); ok {
		obj["originator"] = fmt.Sprintf("scimgate[%s]", origin)
		desc = obj
	}
	return map[string]any{
		"meta": map[string]any{
			"result":      "error",
			"description": desc,
		},
	}
}

func tryParseObject(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	return obj, true
}
