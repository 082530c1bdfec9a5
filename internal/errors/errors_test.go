package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestTransientError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{
			name:    "with cause",
			err:     NewTransient(errors.New("scanner timed out")),
			wantMsg: "transient error: scanner timed out",
		},
		{
			name:    "with nil cause",
			err:     NewTransient(nil),
			wantMsg: "",
		},
		{
			name:    "with formatted error",
			err:     NewTransientf("push failed: %s", "timeout"),
			wantMsg: "transient error: push failed: timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err == nil {
				return
			}
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", got, tt.wantMsg)
			}
		})
	}
}

func TestPermanentError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{
			name:    "with cause",
			err:     NewPermanent(errors.New("dependency-check exited with code 13")),
			wantMsg: "permanent error: dependency-check exited with code 13",
		},
		{
			name:    "with nil cause",
			err:     NewPermanent(nil),
			wantMsg: "",
		},
		{
			name:    "with formatted error",
			err:     NewPermanentf("invalid input: %s", "malformed"),
			wantMsg: "permanent error: invalid input: malformed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err == nil {
				return
			}
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", got, tt.wantMsg)
			}
		})
	}
}

func TestConfigError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{
			name:    "document level",
			err:     NewConfigError(".security/vulnerability-exceptions.yml", errors.New("yaml: line 3: did not find expected key")),
			wantMsg: "config error in .security/vulnerability-exceptions.yml: yaml: line 3: did not find expected key",
		},
		{
			name:    "rule level",
			err:     NewRuleConfigErrorf("exceptions.yml", 2, "missing required field %q", "package"),
			wantMsg: `config error in exceptions.yml (exception #2): missing required field "package"`,
		},
		{
			name:    "without path",
			err:     NewConfigError("", errors.New("bad")),
			wantMsg: "config error in exceptions document: bad",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", got, tt.wantMsg)
			}
			if !IsConfigError(tt.err) {
				t.Error("IsConfigError() = false, want true")
			}
		})
	}

	if NewConfigError("x.yml", nil) != nil {
		t.Error("NewConfigError(nil) should return nil")
	}
}

func TestReportError(t *testing.T) {
	cause := errors.New("unexpected end of JSON input")
	err := NewReportError("reports/dependency-check-report.json", cause)

	if !IsReportError(err) {
		t.Error("IsReportError() = false, want true")
	}
	if !errors.Is(err, cause) {
		t.Error("ReportError should unwrap to its cause")
	}
	if IsConfigError(err) {
		t.Error("ReportError must not be classified as ConfigError")
	}

	wrapped := fmt.Errorf("loading report: %w", err)
	if !IsReportError(wrapped) {
		t.Error("IsReportError() should see through wrapping")
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"explicit transient", NewTransient(errors.New("temp")), true},
		{"explicit permanent", NewPermanent(errors.New("perm")), false},
		{"wrapped transient", fmt.Errorf("wrapped: %w", NewTransient(errors.New("temp"))), true},
		{"not found", ErrNotFound, false},
		{"invalid input", ErrInvalidInput, false},
		{"timeout", ErrTimeout, true},
		{"config error", NewConfigError("x.yml", errors.New("bad")), false},
		{"unknown error", errors.New("unknown"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"explicit permanent", NewPermanent(errors.New("perm")), true},
		{"wrapped permanent", fmt.Errorf("wrapped: %w", NewPermanentf("perm")), true},
		{"transient", NewTransient(errors.New("temp")), false},
		{"plain", errors.New("plain"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.want {
				t.Errorf("IsPermanent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPermanentWrapsNotFound(t *testing.T) {
	err := NewPermanent(fmt.Errorf("dependency-check binary: %w", ErrNotFound))
	if !errors.Is(err, ErrNotFound) {
		t.Error("expected errors.Is to find ErrNotFound through PermanentError")
	}
	if IsTransient(err) {
		t.Error("permanent not-found error must not be transient")
	}
}
