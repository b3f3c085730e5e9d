package teamsync_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hyperengineering/teamsync"
)

func TestSentinelErrors_ErrorsIs(t *testing.T) {
	tests := []struct {
		name     string
		sentinel error
	}{
		{"ErrNotFound", teamsync.ErrNotFound},
		{"ErrOffline", teamsync.ErrOffline},
		{"ErrNotConfigured", teamsync.ErrNotConfigured},
		{"ErrInvalidFilter", teamsync.ErrInvalidFilter},
		{"ErrTop3Limit", teamsync.ErrTop3Limit},
		{"ErrClientClosed", teamsync.ErrClientClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("operation failed: %w", tt.sentinel)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("errors.Is(wrapped, %v) = false, want true", tt.sentinel)
			}
		})
	}
}

func TestErrTop3Limit_Message(t *testing.T) {
	if got := teamsync.ErrTop3Limit.Error(); got != "maximum 3 items per day" {
		t.Errorf("Error() = %q", got)
	}
}

func TestValidationError(t *testing.T) {
	var err error = &teamsync.ValidationError{Field: "LocalPath", Message: "required: path to SQLite database"}

	var ve *teamsync.ValidationError
	if !errors.As(fmt.Errorf("wrap: %w", err), &ve) {
		t.Fatal("errors.As failed to extract ValidationError")
	}
	if ve.Field != "LocalPath" {
		t.Errorf("Field = %q, want %q", ve.Field, "LocalPath")
	}
	want := "validation: LocalPath: required: path to SQLite database"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestRemoteError(t *testing.T) {
	inner := errors.New("connection refused")

	tests := []struct {
		name string
		err  *teamsync.RemoteError
		want string
	}{
		{"with status", &teamsync.RemoteError{Operation: "create", StatusCode: 503, Err: inner}, "remote: create failed (status 503): connection refused"},
		{"transport", &teamsync.RemoteError{Operation: "query", Err: inner}, "remote: query failed: connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
			if !errors.Is(tt.err, inner) {
				t.Error("errors.Is(remoteErr, inner) = false, want true (Unwrap should expose inner)")
			}
			var re *teamsync.RemoteError
			if !errors.As(fmt.Errorf("wrap: %w", tt.err), &re) || re.Operation != tt.err.Operation {
				t.Errorf("errors.As = %v", re)
			}
		})
	}
}
