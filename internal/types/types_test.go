package types

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContractType(t *testing.T) {
	assert.Equal(t, ContractERC721, ParseContractType("erc721"))
	assert.Equal(t, ContractERC721, ParseContractType("ERC-721"))
	assert.Equal(t, ContractERC1155, ParseContractType(" erc1155 "))
	assert.Equal(t, ContractUnknown, ParseContractType("erc20"))
	assert.Equal(t, ContractUnknown, ParseContractType(""))
}

func TestIsZeroAddress(t *testing.T) {
	assert.True(t, IsZeroAddress(""))
	assert.True(t, IsZeroAddress(ZeroAddress))
	assert.True(t, IsZeroAddress(" 0x0000000000000000000000000000000000000000 "))
	assert.False(t, IsZeroAddress("0x000000000000000000000000000000000000dead"))
}

func TestMetadataHasImage(t *testing.T) {
	var nilMeta *Metadata
	assert.False(t, nilMeta.HasImage())
	assert.False(t, (&Metadata{Name: "x", Image: "  "}).HasImage())
	assert.True(t, (&Metadata{ImageURL: "https://img"}).HasImage())
	assert.True(t, (&Metadata{ImageData: "<svg/>"}).HasImage())
	assert.Equal(t, "https://img", (&Metadata{ImageURL: " https://img "}).PrimaryImage())
}

func TestLookupChain(t *testing.T) {
	info, ok := LookupChain(ChainPolygon)
	assert.True(t, ok)
	assert.Equal(t, "polygon", info.Name)
	assert.Equal(t, ProviderMoralis, info.Provider)

	_, ok = LookupChain(ChainID(999999))
	assert.False(t, ok)

	byName, ok := LookupChainByName(" Base ")
	assert.True(t, ok)
	assert.Equal(t, ChainBase, byName.ID)
}

func TestIsEventBlacklisted(t *testing.T) {
	info, _ := LookupChain(ChainPolygon)
	assert.True(t, info.IsEventBlacklisted("0x22D5F9B75C524FEC1D6619787E582644CD4D7422"))
	assert.False(t, info.IsEventBlacklisted("0x0000000000000000000000000000000000000001"))
}

func TestAssetKeyNormalize(t *testing.T) {
	k := AssetKey{ChainID: 1, ContractAddress: " 0xABC ", TokenID: " 7 "}.Normalize()
	assert.Equal(t, "0xabc", k.ContractAddress)
	assert.Equal(t, "7", k.TokenID)
	assert.Equal(t, "1:0xabc:7", k.String())

	padded := AssetKey{ChainID: 1, ContractAddress: "0xabc", TokenID: "007"}.Normalize()
	assert.Equal(t, k, padded)
}

func TestCanonicalTokenID(t *testing.T) {
	maxUint256 := "115792089237316195423570985008687907853269984665640564039457584007913129639935"
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "7", want: "7"},
		{in: "007", want: "7"},
		{in: " 42 ", want: "42"},
		{in: "0", want: "0"},
		{in: "000", want: "0"},
		{in: maxUint256, want: maxUint256},
		{in: maxUint256 + "0", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "-0", wantErr: true},
		{in: "+7", wantErr: true},
		{in: "0x10", wantErr: true},
		{in: "1_000", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := CanonicalTokenID(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidTokenID, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestAssetKeyNormalize_KeepsInvalidTokenID(t *testing.T) {
	k := AssetKey{ChainID: 1, ContractAddress: "0xabc", TokenID: " -3 "}.Normalize()
	assert.Equal(t, "-3", k.TokenID)
}

func TestTruncateUTF8(t *testing.T) {
	assert.Equal(t, "abc", TruncateUTF8("abc", 10))
	assert.Equal(t, "ab", TruncateUTF8("abc", 2))
	assert.Equal(t, "", TruncateUTF8("abc", 0))

	s := strings.Repeat("a", 254) + "é trailing"
	got := TruncateUTF8(s, 255)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 254), got)

	// 3-byte characters never split
	got = TruncateUTF8(strings.Repeat("世", 20), 32)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("世", 10), got)
}
