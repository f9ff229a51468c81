package errors

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/nft-syncer/internal/types"
)

func TestClassifyReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ReasonUnknown},
		{"missing metadata", New(KindContent, CodeMetadataMissing, "no metadata"), ReasonMetadata404},
		{"http 404 json", &HTTPStatusError{StatusCode: 404, URL: "https://x.io/1.json"}, ReasonMetadata404},
		{"http 404 image", &HTTPStatusError{StatusCode: 404, URL: "https://x.io/1.png"}, ReasonImage404},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ReasonTimeout},
		{"timeout text", fmt.Errorf("i/o timeout"), ReasonTimeout},
		{"image text", fmt.Errorf("image returned 404"), ReasonImage404},
		{"raw", fmt.Errorf("execution reverted"), "execution reverted"},
		{"blank", fmt.Errorf("  "), ReasonUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyReason(tt.err))
		})
	}
}

func TestClassifyReason_TruncatesRawMessage(t *testing.T) {
	raw := strings.Repeat("x", 400)
	got := ClassifyReason(fmt.Errorf("%s", raw))
	assert.Len(t, got, 255)

	multiByte := strings.Repeat("a", 254) + "é trailing"
	got = ClassifyReason(fmt.Errorf("%s", multiByte))
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 254), got)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(&HTTPStatusError{StatusCode: http.StatusTooManyRequests}))
	assert.True(t, IsRetryable(&HTTPStatusError{StatusCode: http.StatusBadGateway}))
	assert.False(t, IsRetryable(&HTTPStatusError{StatusCode: http.StatusNotFound}))
	assert.True(t, IsRetryable(fmt.Errorf("dial tcp: connection refused")))
	assert.False(t, IsRetryable(fmt.Errorf("execution reverted")))
	assert.False(t, IsRetryable(nil))
}

func TestKindOfAndCategorize(t *testing.T) {
	key := types.AssetKey{ChainID: 1, ContractAddress: "0xabc", TokenID: "1"}

	skipped := NewSkippedError(CodeAssetBackoff, key)
	assert.True(t, IsSkipped(skipped))
	assert.True(t, IsSkipped(fmt.Errorf("wrapped: %w", skipped)))
	assert.Equal(t, KindUnsupported, KindOf(NewUnsupportedChainError(999)))
	assert.Equal(t, KindTransient, KindOf(fmt.Errorf("503 service unavailable")))
	assert.Equal(t, KindInternal, KindOf(fmt.Errorf("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))

	assert.Equal(t, KindTransient, NewProviderError("moralis", &HTTPStatusError{StatusCode: 500}).Kind)
	assert.Equal(t, KindContent, NewProviderError("moralis", &HTTPStatusError{StatusCode: 404}).Kind)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusConflict, New(KindSkipped, CodeAssetBackoff, "").StatusCode())
	assert.Equal(t, http.StatusBadRequest, NewInvalidParameterError("chainId", "bad").StatusCode())
	assert.Equal(t, http.StatusServiceUnavailable, New(KindTransient, CodeRPCExhausted, "").StatusCode())
}
