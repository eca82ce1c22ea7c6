package interceptor

import (
	"context"

	"github.com/familyhub/gateway/pkg/errors"
	"github.com/familyhub/gateway/pkg/types"
)

// runView drives VIEW and SHARE: Validation -> Metadata.findActive -> permission check ->
// return metadata (VIEW) or a backend access URL (SHARE).
func (c *Chain) runView(ctx context.Context, pc *types.ProcessingContext) error {
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
		return fail(pc, errors.New(errors.KindPermissionDenied, "not authorized to view this file").
			WithComponent("interceptor").WithOperation(string(pc.Operation)))
	}
	pc.Metadata = active

	if pc.Operation == types.OpShare {
		url, err := c.storage.AccessURL(ctx, fileID, familyID, shareExpireMinutes)
		if err != nil {
			return fail(pc, errors.New(errors.KindAdapterIO, "failed to produce access url").
				WithComponent("interceptor").WithOperation("share").WithCause(err))
		}
		pc.AccessURL = url
	}

	pc.Stage = types.StageCompleted
	return nil
}

// shareExpireMinutes is the default validity window for a SHARE-generated access URL.
const shareExpireMinutes = 60
