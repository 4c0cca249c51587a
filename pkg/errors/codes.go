package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_003"
	ErrCodeConflict           ErrorCode = "COMMON_004"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_005"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_006"
	ErrCodeTimeout            ErrorCode = "COMMON_007"
	ErrCodeValidation         ErrorCode = "COMMON_008"
	ErrCodeSerialization      ErrorCode = "COMMON_009"
	ErrCodeDatabaseError      ErrorCode = "COMMON_010"
	ErrCodeCacheError         ErrorCode = "COMMON_011"
	ErrCodeExternalService    ErrorCode = "COMMON_012"
	ErrCodeFeatureDisabled    ErrorCode = "COMMON_013"
	ErrCodeNotImplemented     ErrorCode = "COMMON_014"
)

// Short aliases used throughout the codebase.
const (
	CodeInternal     = ErrCodeInternal
	CodeInvalidParam = ErrCodeBadRequest
	CodeNotFound     = ErrCodeNotFound
	CodeConflict     = ErrCodeConflict
	CodeRateLimit    = ErrCodeTooManyRequests
	CodeUnavailable  = ErrCodeServiceUnavailable
	CodeTimeout      = ErrCodeTimeout
	CodeUnknown      = ErrorCode("UNKNOWN")
	CodeOK           = ErrorCode("OK")
)

// Entity Resolution Error Codes
const (
	ErrCodeResolutionFailed     ErrorCode = "RES_001"
	ErrCodeEntityNotFound       ErrorCode = "RES_002"
	ErrCodeEmptyEntityName      ErrorCode = "RES_003"
	ErrCodeVerifierUnavailable  ErrorCode = "RES_004"
	ErrCodeVerifierBatchFailed  ErrorCode = "RES_005"
	ErrCodeResolutionLocked     ErrorCode = "RES_006"
	ErrCodeEmbeddingUnavailable ErrorCode = "RES_007"
)

// Relationship Builder Error Codes
const (
	ErrCodeRelationshipInvalid    ErrorCode = "REL_001"
	ErrCodeRelationshipNotFound   ErrorCode = "REL_002"
	ErrCodeRelationshipType       ErrorCode = "REL_003"
	ErrCodePrerequisiteInference  ErrorCode = "REL_004"
	ErrCodeRelationshipBatchWrite ErrorCode = "REL_005"
)

// Gap Analysis Error Codes
const (
	ErrCodeAnalysisFailed           ErrorCode = "GAP_001"
	ErrCodeAnalysisDataInsufficient ErrorCode = "GAP_002"
	ErrCodeClusteringFailed         ErrorCode = "GAP_003"
	ErrCodeGapNotFound              ErrorCode = "GAP_004"
	ErrCodeGapStatusInvalid         ErrorCode = "GAP_005"
	ErrCodeQuestionGeneration       ErrorCode = "GAP_006"
)

// Graph Query Error Codes
const (
	ErrCodeTraversalFailed   ErrorCode = "QRY_001"
	ErrCodeTraversalDepth    ErrorCode = "QRY_002"
	ErrCodeSearchFailed      ErrorCode = "QRY_003"
	ErrCodeSubgraphTooLarge  ErrorCode = "QRY_004"
	ErrCodeProjectNotFound   ErrorCode = "QRY_005"
	ErrCodeStoreUnavailable  ErrorCode = "QRY_006"
	ErrCodeFilterUnsupported ErrorCode = "QRY_007"
)

// Graph Store Error Codes
const (
	ErrCodeGraphWriteFailed    ErrorCode = "GRAPH_001"
	ErrCodeGraphReadFailed     ErrorCode = "GRAPH_002"
	ErrCodeGraphIndexMissing   ErrorCode = "GRAPH_003"
	ErrCodeGraphDuplicateKey   ErrorCode = "GRAPH_004"
	ErrCodeVectorStoreFailed   ErrorCode = "GRAPH_005"
	ErrCodeTextIndexFailed     ErrorCode = "GRAPH_006"
	ErrCodeAnalysisStoreFailed ErrorCode = "GRAPH_007"
)

// Job Pipeline Error Codes
const (
	ErrCodeJobDecodeFailed  ErrorCode = "JOB_001"
	ErrCodeJobPublishFailed ErrorCode = "JOB_002"
	ErrCodeJobLockHeld      ErrorCode = "JOB_003"
)

// HTTPStatus maps an ErrorCode to the HTTP status the interfaces layer should
// return.  Unknown codes map to 500 so that new codes fail loudly rather than
// leaking 200s.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case CodeOK:
		return http.StatusOK
	case ErrCodeBadRequest, ErrCodeValidation, ErrCodeEmptyEntityName,
		ErrCodeRelationshipInvalid, ErrCodeRelationshipType,
		ErrCodeTraversalDepth, ErrCodeGapStatusInvalid, ErrCodeFilterUnsupported:
		return http.StatusBadRequest
	case ErrCodeNotFound, ErrCodeEntityNotFound, ErrCodeRelationshipNotFound,
		ErrCodeGapNotFound, ErrCodeProjectNotFound:
		return http.StatusNotFound
	case ErrCodeConflict, ErrCodeGraphDuplicateKey, ErrCodeResolutionLocked, ErrCodeJobLockHeld:
		return http.StatusConflict
	case ErrCodeTooManyRequests:
		return http.StatusTooManyRequests
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeServiceUnavailable, ErrCodeStoreUnavailable, ErrCodeVerifierUnavailable,
		ErrCodeEmbeddingUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeNotImplemented:
		return http.StatusNotImplemented
	case ErrCodeFeatureDisabled:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Family returns the code's module prefix ("RES", "GAP", ...) for use as a
// low-cardinality metric label.
func (c ErrorCode) Family() string {
	s := string(c)
	if i := strings.IndexByte(s, '_'); i > 0 {
		return s[:i]
	}
	return s
}

// IsRetryable reports whether an operation that failed with this code is safe
// and worthwhile to retry.  Conflict codes are excluded: under the idempotent
// upsert design a duplicate-key conflict means the write already happened.
func (c ErrorCode) IsRetryable() bool {
	switch c {
	case ErrCodeTimeout, ErrCodeTooManyRequests, ErrCodeServiceUnavailable,
		ErrCodeStoreUnavailable, ErrCodeExternalService, ErrCodeVerifierUnavailable:
		return true
	default:
		return false
	}
}
