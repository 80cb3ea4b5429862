package errkind

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected ExitCode
	}{
		{name: "nil_error", err: nil, expected: ExitSuccess},
		{name: "user_abort", err: New(UserAbort, errors.New("declined")), expected: ExitUserAbort},
		{name: "rejected_group", err: New(RejectedGroup, errors.New("nothing to commit")), expected: ExitUserAbort},
		{name: "invariant_violated", err: New(InvariantViolated, errors.New("overlapping chunks")), expected: ExitInvariantViolated},
		{name: "gateway_error", err: New(GatewayError, errors.New("lookup failed")), expected: ExitGatewayError},
		{name: "parse_error", err: New(ParseError, errors.New("bad syntax")), expected: ExitInvariantViolated},
		{name: "model_error", err: New(ModelError, errors.New("provider down")), expected: ExitModelError},
		{name: "ref_conflict", err: New(RefConflict, errors.New("ref moved")), expected: ExitRefConflict},
		{name: "unclassified_error", err: errors.New("plain"), expected: ExitGatewayError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, Code(tt.err))
		})
	}
}

func TestErrorUnwrapAndMessage(t *testing.T) {
	t.Parallel()

	inner := errors.New("lookup failed")
	wrapped := New(GatewayError, inner)

	assert.Equal(t, inner.Error(), wrapped.Error())
	assert.ErrorIs(t, wrapped, inner)
}

func TestCodeThroughWrappedError(t *testing.T) {
	t.Parallel()

	inner := New(RefConflict, errors.New("ref moved"))
	wrapped := fmt.Errorf("apply: %w", inner)

	assert.Equal(t, ExitRefConflict, Code(wrapped))
}
