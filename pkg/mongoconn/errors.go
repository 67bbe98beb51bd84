package mongoconn

import (
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
)

// Server error codes the controller keys its behavior on. Classification is
// by numeric code, not message text, wherever the driver exposes one.
const (
	CodeNotYetInitialized    = 94
	CodeAuthenticationFailed = 18
	CodeUnauthorized         = 13
	CodeUserAlreadyExists    = 51003
)

// HasCode reports whether err carries the given server error code.
func HasCode(err error, code int) bool {
	var se mongo.ServerError
	if errors.As(err, &se) {
		return se.HasErrorCode(code)
	}
	return false
}

// IsAuthError reports whether err is an authentication failure, either as a
// command error (codes 18/13) or during the connection handshake. Handshake
// failures reach the caller as connection errors without an exported code,
// so the SCRAM failure marker in the message is the only signal available.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if HasCode(err, CodeAuthenticationFailed) || HasCode(err, CodeUnauthorized) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "auth error") || strings.Contains(msg, "AuthenticationFailed")
}
