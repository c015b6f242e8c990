package vault

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/org/vaultcreds/pkg/models"
)

// metadataBatchSize bounds in-flight metadata fetches during listing. A
// middle ground between serial fetching and unbounded parallelism against
// the backend.
const metadataBatchSize = 5

// GatherSecrets lists the child keys under basePath and fetches per-key
// metadata in fixed-size concurrent batches, assembling a display-ready
// summary list. A missing container yields an empty list; any other failure
// fails the whole listing, there is no partial result.
//
// Batch N+1 never starts before batch N has fully resolved. Fetch order
// within a batch is unspecified; result order always matches key order.
func GatherSecrets(ctx context.Context, c *Client, basePath string) ([]models.SecretInfo, error) {
	keys, err := c.ListSecrets(ctx, basePath)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return []models.SecretInfo{}, nil
		}
		return nil, err
	}

	metas := make([]*models.SecretMetadata, len(keys))
	for start := 0; start < len(keys); start += metadataBatchSize {
		end := min(start+metadataBatchSize, len(keys))
		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				meta, err := c.SecretMetadata(gctx, JoinPath(basePath, keys[i]))
				if err != nil {
					return err
				}
				metas[i] = meta
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	infos := make([]models.SecretInfo, len(keys))
	for i, key := range keys {
		infos[i] = models.InfoFromMetadata(key, metas[i])
	}
	return infos, nil
}
