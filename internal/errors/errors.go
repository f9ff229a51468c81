package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/nft-syncer/internal/types"
)

// Kind is the error taxonomy shared by every public operation of the sync core
type Kind string

const (
	// KindTransient covers RPC timeouts, refused connections and provider 429/5xx
	KindTransient Kind = "transient"
	// KindContent covers metadata 404s, malformed token URIs and missing metadata
	KindContent Kind = "content"
	// KindUnsupported covers unknown chains and unknown contract schemas
	KindUnsupported Kind = "unsupported"
	// KindSkipped is returned when a gate (blacklist, suspension, backoff) short-circuits a sync
	KindSkipped Kind = "skipped"
	// KindInternal covers database and unexpected failures
	KindInternal Kind = "internal"
)

// Failure reasons persisted by the metadata failure tracker
const (
	ReasonMetadata404 = "METADATA_404"
	ReasonTimeout     = "TIMEOUT"
	ReasonImage404    = "IMAGE_404"
	ReasonUnknown     = "UNKNOWN_ERROR"

	maxReasonLength = 255
)

// Codes used across packages
const (
	CodeUnsupportedChain    = "UNSUPPORTED_CHAIN"
	CodeUnsupportedSchema   = "UNSUPPORTED_SCHEMA"
	CodeRefreshBlacklisted  = "REFRESH_BLACKLISTED"
	CodeCollectionSuspended = "COLLECTION_SUSPENDED"
	CodeAssetBackoff        = "ASSET_BACKOFF"
	CodeMetadataMissing     = "METADATA_MISSING"
	CodeRPCExhausted        = "RPC_EXHAUSTED"
	CodeExecutionReverted   = "EXECUTION_REVERTED"
	CodeProviderError       = "PROVIDER_ERROR"
	CodeDatabaseError       = "DATABASE_ERROR"
	CodeInternalError       = "INTERNAL_ERROR"
	CodeInvalidParameter    = "INVALID_PARAMETER"
	CodeNotFound            = "NOT_FOUND"
)

// SyncError is the single error shape returned by the sync core
type SyncError struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface
func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// StatusCode maps the kind to an HTTP status for the ops API
func (e *SyncError) StatusCode() int {
	switch e.Kind {
	case KindSkipped:
		return http.StatusConflict
	case KindUnsupported:
		return http.StatusUnprocessableEntity
	case KindContent:
		if e.Code == CodeNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		if e.Code == CodeInvalidParameter {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	}
}

// ToServiceError converts to the API error body
func (e *SyncError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: map[string]interface{}{"kind": string(e.Kind)},
	}
}

// New creates a SyncError without a cause
func New(kind Kind, code, message string) *SyncError {
	return &SyncError{Kind: kind, Code: code, Message: message}
}

// Wrap creates a SyncError around a cause
func Wrap(kind Kind, code, message string, cause error) *SyncError {
	return &SyncError{Kind: kind, Code: code, Message: message, Cause: cause}
}

// NewSkippedError reports a sync short-circuited by a gate
func NewSkippedError(code string, key types.AssetKey) *SyncError {
	return New(KindSkipped, code, fmt.Sprintf("sync skipped for %s", key))
}

// NewUnsupportedChainError reports a chain with no descriptor
func NewUnsupportedChainError(chainID types.ChainID) *SyncError {
	return New(KindUnsupported, CodeUnsupportedChain, fmt.Sprintf("unsupported chain: %s", chainID))
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *SyncError {
	return Wrap(KindInternal, CodeDatabaseError, fmt.Sprintf("database error during %s", operation), cause)
}

// NewProviderError wraps a provider failure, classifying it as transient or content
func NewProviderError(provider string, cause error) *SyncError {
	kind := KindContent
	if IsRetryable(cause) {
		kind = KindTransient
	}
	return Wrap(kind, CodeProviderError, fmt.Sprintf("data provider error: %s", provider), cause)
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param, reason string) *SyncError {
	return New(KindInternal, CodeInvalidParameter, fmt.Sprintf("invalid parameter '%s': %s", param, reason))
}

// HTTPStatusError is returned by provider adapters for non-2xx responses
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http status %d from %s", e.StatusCode, e.URL)
}

// Categorize converts any error into a SyncError
func Categorize(err error) *SyncError {
	if err == nil {
		return nil
	}
	var se *SyncError
	if stderrors.As(err, &se) {
		return se
	}
	if IsRetryable(err) {
		return Wrap(KindTransient, CodeInternalError, "transient failure", err)
	}
	return Wrap(KindInternal, CodeInternalError, "unexpected error", err)
}

// KindOf returns the kind of err, or "" for nil
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return Categorize(err).Kind
}

// IsSkipped reports whether err is a gate short-circuit
func IsSkipped(err error) bool {
	return KindOf(err) == KindSkipped
}

// IsRetryable reports network, timeout, rate-limit and 5xx failures
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *SyncError
	if stderrors.As(err, &se) {
		if se.Kind == KindTransient {
			return true
		}
		if se.Cause == nil {
			return false
		}
		return IsRetryable(se.Cause)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var hs *HTTPStatusError
	if stderrors.As(err, &hs) {
		return hs.StatusCode == http.StatusTooManyRequests || hs.StatusCode >= 500
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"timeout",
		"timed out",
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"too many requests",
		"rate limit",
		"429",
		"502",
		"503",
		"504",
		"temporarily unavailable",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// ClassifyReason turns a fetch failure into the reason persisted with a metadata failure
func ClassifyReason(err error) string {
	if err == nil {
		return ReasonUnknown
	}
	var se *SyncError
	if stderrors.As(err, &se) && se.Code == CodeMetadataMissing {
		return ReasonMetadata404
	}
	var hs *HTTPStatusError
	if stderrors.As(err, &hs) && hs.StatusCode == http.StatusNotFound {
		if looksLikeImage(hs.URL) {
			return ReasonImage404
		}
		return ReasonMetadata404
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "image") && strings.Contains(lower, "404"):
		return ReasonImage404
	case strings.Contains(lower, "404") || strings.Contains(lower, "not found"):
		return ReasonMetadata404
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out"):
		return ReasonTimeout
	case strings.TrimSpace(msg) == "":
		return ReasonUnknown
	}
	return types.TruncateUTF8(msg, maxReasonLength)
}

func looksLikeImage(url string) bool {
	u := strings.ToLower(url)
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp"} {
		if strings.HasSuffix(u, ext) {
			return true
		}
	}
	return false
}
