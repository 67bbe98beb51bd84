package mongoconn

import (
	"errors"
	"fmt"
	"testing"

	"go.mongodb.org/mongo-driver/mongo"
)

func TestHasCode(t *testing.T) {
	err := mongo.CommandError{Code: 94, Name: "NotYetInitialized"}

	if !HasCode(err, CodeNotYetInitialized) {
		t.Error("code 94 not detected")
	}
	if HasCode(err, CodeUserAlreadyExists) {
		t.Error("code 51003 falsely detected")
	}
	if HasCode(nil, CodeNotYetInitialized) {
		t.Error("nil error should carry no code")
	}
}

func TestHasCodeWrapped(t *testing.T) {
	err := fmt.Errorf("reading config: %w", mongo.CommandError{Code: 51003, Name: "Location51003"})
	if !HasCode(err, CodeUserAlreadyExists) {
		t.Error("wrapped code 51003 not detected")
	}
}

func TestIsAuthError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"authentication failed code", mongo.CommandError{Code: 18, Name: "AuthenticationFailed"}, true},
		{"unauthorized code", mongo.CommandError{Code: 13, Name: "Unauthorized"}, true},
		{"handshake auth error", errors.New(`connection() error occurred during connection handshake: auth error: sasl conversation error`), true},
		{"not yet initialized", mongo.CommandError{Code: 94, Name: "NotYetInitialized"}, false},
		{"plain network error", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAuthError(tt.err); got != tt.want {
				t.Errorf("IsAuthError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
