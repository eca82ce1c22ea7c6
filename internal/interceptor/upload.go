package interceptor

import (
	"context"
	"io"

	"github.com/familyhub/gateway/pkg/errors"
	"github.com/familyhub/gateway/pkg/types"
)

// runUpload drives UPLOAD and MODIFY: Validation -> compute storage coordinates -> Storage.put
// -> Metadata.save-or-update -> Statistics.onFileUploaded/onFileModified.
func (c *Chain) runUpload(ctx context.Context, pc *types.ProcessingContext) error {
	req := pc.UploadRequest
	if req == nil {
		return fail(pc, errors.New(errors.KindInternal, "upload operation requires an UploadRequest").WithComponent("interceptor"))
	}

	if err := c.validate.CheckUpload(pc.RequestContext, req); err != nil {
		return fail(pc, err)
	}
	pc.Stage = types.StageValidated

	if pc.Metadata == nil {
		pc.Metadata = &types.FileMetadata{}
	}
	fileID := pc.Metadata.FileID
	if fileID == "" {
		fileID = c.newFileID()
	}
	unlock := c.locks.Lock(fileID)
	defer unlock()

	payload, err := io.ReadAll(req.Payload)
	if err != nil {
		return fail(pc, errors.New(errors.KindValidation, "failed to read upload payload").
			WithComponent("interceptor").WithCause(err))
	}

	isModify := pc.Operation == types.OpModify
	var sizeDelta int64
	if isModify && pc.PriorMetadata != nil {
		sizeDelta = int64(len(payload)) - pc.PriorMetadata.FileSize
	}

	meta := pc.Metadata
	meta.FileID = fileID
	meta.FamilyID = req.FamilyID
	meta.OwnerID = req.UploaderUserID
	meta.OriginalName = req.OriginalFileName
	meta.FolderPath = req.FolderPath
	meta.FileSize = int64(len(payload))
	meta.FileType = firstNonEmpty(req.ContentTypeHint, meta.FileType)
	meta.Visibility = defaultVisibility(req.Visibility)
	meta.StorageType = c.storage.Type()
	meta.UploadTime = c.now()

	storagePath, err := c.storage.Upload(ctx, meta, payload)
	if err != nil {
		return fail(pc, errors.New(errors.KindAdapterIO, "upload failed").
			WithComponent("interceptor").WithOperation("upload").WithCause(err))
	}
	pc.Stage = types.StageFileStored
	pc.StorageCoords = storagePath
	meta.StoragePath = storagePath

	txErr := c.metadata.WithTransaction(ctx, func(tx types.MetadataTransaction) error {
		var err error
		if isModify {
			err = tx.Update(ctx, meta)
		} else {
			err = tx.Save(ctx, meta)
		}
		if err != nil {
			return err
		}

		if isModify {
			return c.stats.OnFileModified(ctx, tx, meta, sizeDelta)
		}
		return c.stats.OnFileUploaded(ctx, tx, meta)
	})
	if txErr != nil {
		// Failure at or after FILE_STORED but before METADATA_WRITTEN: the stored object
		// must be removed; the metadata row (if any) never became visible.
		_, _ = c.storage.Delete(ctx, fileID, req.FamilyID)
		return rollback(pc, errors.New(errors.KindInternal, "failed to persist metadata/statistics").
			WithComponent("interceptor").WithOperation("upload").WithCause(txErr))
	}
	pc.Stage = types.StageMetadataWritten
	pc.Stage = types.StageStatsUpdated

	if c.cache != nil {
		c.cache.Evict(ctx, fileID, req.FamilyID)
	}

	pc.Metadata = meta
	pc.Stage = types.StageCompleted
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func defaultVisibility(v types.Visibility) types.Visibility {
	if v == "" {
		return types.VisibilityPrivate
	}
	return v
}
