package interceptor

import (
	"context"

	"github.com/familyhub/gateway/pkg/errors"
	"github.com/familyhub/gateway/pkg/types"
)

// runDelete drives DELETE: Validation -> Metadata.findActive (stats delta + ownership) ->
// Storage.delete -> Metadata.softDelete -> Statistics.onFileDeleted.
func (c *Chain) runDelete(ctx context.Context, pc *types.ProcessingContext) error {
	fileID, familyID := extractFileAndFamily(pc.Metadata)

	if err := c.validate.CheckDownload(pc.RequestContext, fileID, familyID); err != nil {
		return fail(pc, err)
	}
	pc.Stage = types.StageValidated

	unlock := c.locks.Lock(fileID)
	defer unlock()

	active, err := c.metadata.FindActive(ctx, fileID, familyID)
	if err != nil {
		return fail(pc, errors.New(errors.KindNotFound, "file not found").
			WithComponent("interceptor").WithOperation("delete").WithCause(err))
	}
	if active.OwnerID != pc.RequestContext.UserID {
		return fail(pc, errors.New(errors.KindPermissionDenied, "only the owner may delete this file").
			WithComponent("interceptor").WithOperation("delete"))
	}
	pc.PriorMetadata = active

	if _, err := c.storage.Delete(ctx, fileID, familyID); err != nil {
		return fail(pc, errors.New(errors.KindAdapterIO, "failed to delete stored object").
			WithComponent("interceptor").WithOperation("delete").WithCause(err))
	}
	pc.Stage = types.StageFileStored

	now := c.now()
	txErr := c.metadata.WithTransaction(ctx, func(tx types.MetadataTransaction) error {
		if err := tx.SoftDelete(ctx, fileID, now); err != nil {
			return err
		}
		return c.stats.OnFileDeleted(ctx, tx, active)
	})
	if txErr != nil {
		// The adapter's delete is idempotent: a retry of the whole DELETE operation will
		// re-run Storage.delete (a no-op) and then succeed at softDelete.
		return rollback(pc, errors.New(errors.KindInternal, "failed to finalize delete").
			WithComponent("interceptor").WithOperation("delete").WithCause(txErr))
	}
	pc.Stage = types.StageMetadataWritten
	pc.Stage = types.StageStatsUpdated

	if c.cache != nil {
		c.cache.Evict(ctx, fileID, familyID)
	}

	pc.Stage = types.StageCompleted
	return nil
}

// extractFileAndFamily extracts (fileId, familyId) from a ProcessingContext's Metadata, which the
// caller pre-populates with just those two identifying fields before DELETE/DOWNLOAD/VIEW.
func extractFileAndFamily(meta *types.FileMetadata) (string, string) {
	if meta == nil {
		return "", ""
	}
	return meta.FileID, meta.FamilyID
}
