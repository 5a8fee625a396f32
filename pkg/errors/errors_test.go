package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := New(CodeDelegationFailed, "delegate to planner", cause)
	if !strings.Contains(err.Error(), "DELEGATION_FAILED") {
		t.Errorf("expected code in message, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected cause in message, got %q", err.Error())
	}
	if !stderrors.Is(err, cause) {
		t.Error("expected unwrap to reach cause")
	}
}

func TestRecoverableDefaults(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want bool
	}{
		{CodeReasoningUnavailable, true},
		{CodeDelegationTimeout, true},
		{CodeTimeout, true},
		{CodeReasoningMalformed, false},
		{CodeDelegationFailed, false},
		{CodeSchema, false},
		{CodeUnknownTool, false},
	}
	for _, tc := range cases {
		err := New(tc.code, "x", nil)
		if err.Recoverable != tc.want {
			t.Errorf("%s: recoverable = %v, want %v", tc.code, err.Recoverable, tc.want)
		}
	}
}

func TestHasCodeThroughWrapping(t *testing.T) {
	inner := New(CodeUnknownAgent, "no such agent", nil)
	wrapped := fmt.Errorf("resolve: %w", inner)
	if !HasCode(wrapped, CodeUnknownAgent) {
		t.Error("expected HasCode to traverse wrapped error")
	}
	if HasCode(wrapped, CodeUnknownTool) {
		t.Error("unexpected code match")
	}
}

func TestIsRecoverable(t *testing.T) {
	if IsRecoverable(stderrors.New("plain")) {
		t.Error("plain errors must not be recoverable")
	}
	err := New(CodeDelegationFailed, "x", nil).WithRecoverable(true)
	if !IsRecoverable(err) {
		t.Error("explicit override ignored")
	}
}

func TestWithContext(t *testing.T) {
	err := New(CodeArgumentMismatch, "bad args", nil).
		WithContext("tool", "create_event").
		WithContext("missing", "date")
	if err.Context["tool"] != "create_event" {
		t.Errorf("context not recorded: %v", err.Context)
	}
}
