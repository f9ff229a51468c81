package reconcile

import (
	"context"
	"fmt"

	synerr "github.com/nft-syncer/internal/errors"
	"github.com/nft-syncer/internal/logging"
	"github.com/nft-syncer/internal/types"
)

// Pager lists the NFTs of a contract page by page
type Pager interface {
	GetNFTsByContract(ctx context.Context, chainID types.ChainID, contract, cursor string, limit int) (*types.NFTPage, error)
}

// ImportStats counts the outcome of a contract import
type ImportStats struct {
	Pages     int
	Succeeded int
	Skipped   int
	Failed    int
}

// ImportOptions bounds a contract import
type ImportOptions struct {
	PageSize int
	// MaxPages stops the import after this many pages; zero means no limit
	MaxPages int
}

// ImportContract pages through every NFT of a contract and writes each one with
// SyncAssetByNft. Per-item errors are logged and counted; only a page fetch failure
// stops the import.
func (s *Service) ImportContract(ctx context.Context, pager Pager, chainID types.ChainID, contract string, opts ImportOptions) (ImportStats, error) {
	contract = types.NormalizeAddress(contract)
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	log := s.log.WithFields(map[string]interface{}{
		"chainId":  chainID.String(),
		"contract": contract,
	})

	var stats ImportStats
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		page, err := pager.GetNFTsByContract(ctx, chainID, contract, cursor, opts.PageSize)
		if err != nil {
			return stats, fmt.Errorf("failed to fetch page %d: %w", stats.Pages+1, err)
		}
		stats.Pages++

		for _, nft := range page.NFTs {
			if nft == nil {
				continue
			}
			key := types.AssetKey{ChainID: chainID, ContractAddress: contract, TokenID: nft.TokenID}
			_, err := s.SyncAssetByNft(logging.WithLogger(ctx, log), key, nft)
			switch {
			case err == nil:
				stats.Succeeded++
			case synerr.IsSkipped(err):
				stats.Skipped++
			default:
				stats.Failed++
				log.WithError(err).WithField("tokenId", nft.TokenID).Warn("Failed to import token")
			}
		}

		log.WithFields(map[string]interface{}{
			"page":      stats.Pages,
			"succeeded": stats.Succeeded,
			"failed":    stats.Failed,
		}).Info("Imported page")

		if page.Cursor == "" || page.Cursor == cursor {
			return stats, nil
		}
		if opts.MaxPages > 0 && stats.Pages >= opts.MaxPages {
			return stats, nil
		}
		cursor = page.Cursor
	}
}
