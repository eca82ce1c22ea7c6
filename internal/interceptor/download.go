package interceptor

import (
	"context"

	"github.com/familyhub/gateway/pkg/errors"
	"github.com/familyhub/gateway/pkg/types"
)

// runDownload drives DOWNLOAD: Validation -> Metadata.findActive (with permission check) ->
// Storage.download -> async Metadata.incrementAccessCount.
func (c *Chain) runDownload(ctx context.Context, pc *types.ProcessingContext) error {
	fileID, familyID := extractFileAndFamily(pc.Metadata)

	if err := c.validate.CheckDownload(pc.RequestContext, fileID, familyID); err != nil {
		return fail(pc, err)
	}
	pc.Stage = types.StageValidated

	active, err := c.lookupActive(ctx, fileID, familyID)
	if err != nil {
		return fail(pc, err)
	}
	if !canRead(pc.RequestContext, active) {
		return fail(pc, errors.New(errors.KindPermissionDenied, "not authorized to read this file").
			WithComponent("interceptor").WithOperation("download"))
	}

	payload, err := c.storage.Download(ctx, fileID, familyID)
	if err != nil {
		return fail(pc, errors.New(errors.KindAdapterIO, "download failed").
			WithComponent("interceptor").WithOperation("download").WithCause(err))
	}
	pc.Payload = payload
	pc.ContentType = active.FileType
	pc.Metadata = active

	go func() {
		_ = c.metadata.IncrementAccessCount(context.Background(), fileID, c.now())
	}()

	pc.Stage = types.StageCompleted
	return nil
}

// lookupActive resolves a file's metadata via the cache, falling through to the Metadata
// Store on a miss and populating the cache for next time (C3 is strictly advisory).
func (c *Chain) lookupActive(ctx context.Context, fileID, familyID string) (*types.FileMetadata, error) {
	if c.cache != nil {
		if cached, ok := c.cache.GetFile(ctx, fileID); ok && cached.FamilyID == familyID && !cached.Deleted {
			return cached, nil
		}
	}

	active, err := c.metadata.FindActive(ctx, fileID, familyID)
	if err != nil {
		return nil, errors.New(errors.KindNotFound, "file not found").
			WithComponent("interceptor").WithCause(err)
	}
	if c.cache != nil {
		c.cache.PutFile(ctx, active)
	}
	return active, nil
}

// canRead applies the download authorization rule: requester is a member of familyId and
// (visibility=PUBLIC OR ownerId=requester OR visibility=FAMILY).
func canRead(rc types.RequestContext, meta *types.FileMetadata) bool {
	if meta.Visibility == types.VisibilityPublic {
		return true
	}
	if !rc.IsMember(meta.FamilyID) {
		return false
	}
	return meta.OwnerID == rc.UserID || meta.Visibility == types.VisibilityFamily
}
