package result

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	platform "github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKindString(t *testing.T) {
	tests := []struct {
		name string
		kind ErrorKind
		want string
	}{
		{"validation", ValidationFailed("duplicate"), "VALIDATION_FAILED(duplicate)"},
		{"not found", NotFound(), "NOT_FOUND"},
		{"first write", FirstWriteFailed("saveFeedback"), "PARTIAL_WRITE_FAILURE(completed=none, failed=saveFeedback)"},
		{
			"second write",
			PartialWriteFailure("saveFeedback", "addVisitedSite", true),
			"PARTIAL_WRITE_FAILURE(completed=saveFeedback, failed=addVisitedSite, compensated=true)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.String())
		})
	}
}

func TestErrorKindIs(t *testing.T) {
	assert.True(t, ValidationFailed("auth").Is(ValidationFailed("auth")))
	assert.False(t, ValidationFailed("auth").Is(ValidationFailed("data")))
	assert.True(t, PartialWriteFailure("a", "b", false).Is(PartialWriteFailure("a", "b", false)))
	assert.False(t, PartialWriteFailure("a", "b", false).Is(PartialWriteFailure("a", "b", true)))
	assert.False(t, FirstWriteFailed("b").Is(PartialWriteFailure("", "b", false)))
}

func TestRetryable(t *testing.T) {
	assert.True(t, UpstreamUnavailable().Retryable())
	assert.False(t, UpstreamRejected().Retryable())
	assert.False(t, Internal().Retryable())
}

func TestEnvelopeInvariant(t *testing.T) {
	ok := OK("payload", "done")
	assert.True(t, ok.Valid())
	assert.True(t, ok.Success)
	assert.Nil(t, ok.Err())

	fail := Fail[string](NotFound(), "")
	assert.True(t, fail.Valid())
	assert.False(t, fail.Success)
	assert.Equal(t, "requested item was not found", fail.Message)
	require.Error(t, fail.Err())

	recast := Recast[int](fail)
	assert.True(t, recast.Valid())
	assert.Equal(t, KindNotFound, recast.Error.Kind)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"result error", NewError(Duplicate(), "dup", nil), KindDuplicate},
		{"wrapped result error", fmt.Errorf("outer: %w", NewError(UpstreamRejected(), "bad", nil)), KindUpstreamRejected},
		{"platform not found", platform.New(platform.CodeNotFound, "no such site"), KindNotFound},
		{"platform exists", platform.New(platform.CodeAlreadyExists, "exists"), KindDuplicate},
		{"platform network", platform.New(platform.CodeNetwork, "reset"), KindUpstreamUnavailable},
		{"platform invalid", platform.New(platform.CodeInvalidInput, "malformed"), KindUpstreamRejected},
		{"platform internal", platform.New(platform.CodeInternal, "bug"), KindInternal},
		{"deadline", context.DeadlineExceeded, KindUpstreamUnavailable},
		{"canceled", context.Canceled, KindInternal},
		{"plain", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, msg := Classify(tt.err)
			assert.Equal(t, tt.want, kind.Kind)
			assert.NotEmpty(t, msg)
		})
	}
}

func TestErrorIsPlatformError(t *testing.T) {
	err := NewError(PartialWriteFailure("saveFeedback", "addVisitedSite", false), "could not record visit", nil)

	assert.False(t, platform.IsRetryable(err))
	assert.Equal(t, platform.CodeConflict, platform.GetCode(err))

	resp := platform.ToJSON(err)
	require.NotNil(t, resp)
	assert.Equal(t, "could not record visit", resp.Message)
	assert.Equal(t, "addVisitedSite", resp.Context["failed_step"])
	assert.Equal(t, false, resp.Context["compensated"])

	assert.True(t, platform.IsRetryable(NewError(UpstreamUnavailable(), "down", nil)))
}

func TestEnvelopeJSON(t *testing.T) {
	b, err := json.Marshal(Fail[string](ValidationFailed("duplicate"), "feedback already released"))
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"success":false,"error_kind":{"kind":"VALIDATION_FAILED","stage":"duplicate"},"message":"feedback already released"}`,
		string(b))
}
