package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	e := New(ErrCodeEntityNotFound, "entity not found")
	assert.Equal(t, "[RES_002] entity not found", e.Error())

	e = e.WithDetail("id=ent-42")
	assert.Equal(t, "[RES_002] entity not found: id=ent-42", e.Error())
}

func TestWrap_PreservesChain(t *testing.T) {
	root := stderrors.New("connection refused")
	wrapped := Wrap(root, ErrCodeGraphReadFailed, "failed to load entities")

	require.NotNil(t, wrapped)
	assert.True(t, stderrors.Is(wrapped, root))
	assert.Equal(t, ErrCodeGraphReadFailed, GetCode(wrapped))
}

func TestWrap_NilPassthrough(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "should not appear"))
}

func TestWrap_UnknownCodePreservesOriginal(t *testing.T) {
	inner := New(ErrCodeAnalysisDataInsufficient, "need at least 3 concepts with embeddings")
	outer := Wrap(inner, CodeUnknown, "analysis aborted")
	assert.Equal(t, ErrCodeAnalysisDataInsufficient, outer.Code)
}

func TestIsCode_WalksChain(t *testing.T) {
	inner := New(ErrCodeVerifierBatchFailed, "verifier batch timed out")
	outer := fmt.Errorf("resolve run: %w", inner)

	assert.True(t, IsCode(outer, ErrCodeVerifierBatchFailed))
	assert.False(t, IsCode(outer, ErrCodeGraphWriteFailed))
}

func TestIsNotFound(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"generic not found", NotFound("missing"), true},
		{"entity not found", New(ErrCodeEntityNotFound, "missing"), true},
		{"gap not found", New(ErrCodeGapNotFound, "missing"), true},
		{"wrapped", fmt.Errorf("outer: %w", New(ErrCodeProjectNotFound, "missing")), true},
		{"other code", New(ErrCodeInternal, "boom"), false},
		{"plain error", stderrors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsNotFound(tc.err))
		})
	}
}

func TestIsConflict(t *testing.T) {
	assert.True(t, IsConflict(Conflict("duplicate relationship")))
	assert.True(t, IsConflict(New(ErrCodeGraphDuplicateKey, "entity key exists")))
	assert.False(t, IsConflict(New(ErrCodeGraphWriteFailed, "write failed")))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, CodeOK, GetCode(nil))
	assert.Equal(t, CodeUnknown, GetCode(stderrors.New("opaque")))
	assert.Equal(t, ErrCodeSearchFailed, GetCode(New(ErrCodeSearchFailed, "search failed")))
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, ErrCodeTraversalDepth.HTTPStatus())
	assert.Equal(t, http.StatusNotFound, ErrCodeEntityNotFound.HTTPStatus())
	assert.Equal(t, http.StatusConflict, ErrCodeResolutionLocked.HTTPStatus())
	assert.Equal(t, http.StatusServiceUnavailable, ErrCodeStoreUnavailable.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, ErrCodeClusteringFailed.HTTPStatus())
}

func TestErrorCode_Family(t *testing.T) {
	assert.Equal(t, "RES", ErrCodeResolutionFailed.Family())
	assert.Equal(t, "GAP", ErrCodeGapNotFound.Family())
	assert.Equal(t, "COMMON", ErrCodeInternal.Family())
	assert.Equal(t, "OK", CodeOK.Family())
}

func TestErrorCode_IsRetryable(t *testing.T) {
	assert.True(t, ErrCodeTimeout.IsRetryable())
	assert.True(t, ErrCodeStoreUnavailable.IsRetryable())
	// Conflicts are successful no-ops under idempotent upserts.
	assert.False(t, ErrCodeGraphDuplicateKey.IsRetryable())
	assert.False(t, ErrCodeValidation.IsRetryable())
}
