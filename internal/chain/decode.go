package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/nft-syncer/internal/types"
)

// ErrNotNFTLog is returned for logs that share a topic with an NFT event but are
// not one, such as ERC-20 Transfer logs with three topics.
var ErrNotNFTLog = errors.New("not an NFT transfer log")

// DecodeTransfers expands one log into its logical transfers. A TransferBatch
// log yields one transfer per id.
func DecodeTransfers(chainID types.ChainID, lg ethtypes.Log) ([]types.LogicalTransfer, error) {
	if len(lg.Topics) == 0 {
		return nil, ErrNotNFTLog
	}

	base := types.LogicalTransfer{
		ChainID:         chainID,
		ContractAddress: types.NormalizeAddress(lg.Address.Hex()),
		BlockNumber:     lg.BlockNumber,
		TxHash:          lg.TxHash.Hex(),
		LogIndex:        lg.Index,
	}

	switch lg.Topics[0] {
	case TopicTransfer:
		// ERC-721 indexes tokenId, ERC-20 does not
		if len(lg.Topics) != 4 {
			return nil, ErrNotNFTLog
		}
		t := base
		t.FromAddress = topicAddress(lg.Topics[1])
		t.ToAddress = topicAddress(lg.Topics[2])
		t.TokenID = lg.Topics[3].Big().String()
		t.Value = "1"
		return []types.LogicalTransfer{t}, nil

	case TopicTransferSingle:
		if len(lg.Topics) != 4 {
			return nil, fmt.Errorf("TransferSingle with %d topics: %w", len(lg.Topics), ErrNotNFTLog)
		}
		out, err := nftABI.Unpack("TransferSingle", lg.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode TransferSingle: %w", err)
		}
		id, ok1 := out[0].(*big.Int)
		value, ok2 := out[1].(*big.Int)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("unexpected TransferSingle payload")
		}
		t := base
		t.FromAddress = topicAddress(lg.Topics[2])
		t.ToAddress = topicAddress(lg.Topics[3])
		t.TokenID = id.String()
		t.Value = value.String()
		return []types.LogicalTransfer{t}, nil

	case TopicTransferBatch:
		if len(lg.Topics) != 4 {
			return nil, fmt.Errorf("TransferBatch with %d topics: %w", len(lg.Topics), ErrNotNFTLog)
		}
		out, err := nftABI.Unpack("TransferBatch", lg.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode TransferBatch: %w", err)
		}
		ids, ok1 := out[0].([]*big.Int)
		values, ok2 := out[1].([]*big.Int)
		if !ok1 || !ok2 || len(ids) != len(values) {
			return nil, fmt.Errorf("unexpected TransferBatch payload")
		}
		from := topicAddress(lg.Topics[2])
		to := topicAddress(lg.Topics[3])
		transfers := make([]types.LogicalTransfer, 0, len(ids))
		for i := range ids {
			t := base
			t.FromAddress = from
			t.ToAddress = to
			t.TokenID = ids[i].String()
			t.Value = values[i].String()
			transfers = append(transfers, t)
		}
		return transfers, nil
	}

	return nil, ErrNotNFTLog
}

func topicAddress(h common.Hash) string {
	return types.NormalizeAddress(common.BytesToAddress(h.Bytes()).Hex())
}
