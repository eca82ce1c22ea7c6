// Package interceptor implements the Interceptor Chain (C5): the canonical sequencer that
// drives every user-facing operation through Validation -> Storage -> Metadata -> Statistics
// -> Completion, tracking a ProcessingContext's state machine and applying the rollback
// policy on failure. C7 is a thin façade that builds a ProcessingContext and calls Execute.
package interceptor

import (
	"context"
	"time"

	"github.com/familyhub/gateway/internal/metacache"
	"github.com/familyhub/gateway/internal/stats"
	"github.com/familyhub/gateway/internal/validator"
	"github.com/familyhub/gateway/pkg/errors"
	"github.com/familyhub/gateway/pkg/types"
)

// IDGenerator assigns a new opaque, globally unique fileId at upload admission.
type IDGenerator func() string

// Chain composes C1-C4 and C6 into the single sequencer that C7 drives.
type Chain struct {
	storage   types.StorageAdapter
	metadata  types.MetadataStore
	cache     *metacache.Cache
	validate  *validator.Validator
	stats     *stats.Engine
	newFileID IDGenerator
	now       func() time.Time
	locks     *keyLock
}

// Config wires together the components Chain composes.
type Config struct {
	Storage    types.StorageAdapter
	Metadata   types.MetadataStore
	Cache      *metacache.Cache
	Validator  *validator.Validator
	Stats      *stats.Engine
	NewFileID  IDGenerator
	Clock      func() time.Time
}

// New builds an Interceptor Chain from its component dependencies.
func New(cfg Config) *Chain {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Chain{
		storage:   cfg.Storage,
		metadata:  cfg.Metadata,
		cache:     cfg.Cache,
		validate:  cfg.Validator,
		stats:     cfg.Stats,
		newFileID: cfg.NewFileID,
		now:       cfg.Clock,
		locks:     newKeyLock(),
	}
}

// Execute runs pc through the stage sequence appropriate to pc.Operation, mutating pc.Stage
// as it progresses and setting pc.Err on failure. The fileId a given pc concerns (once known)
// is serialized against concurrent operations on the same fileId.
func (c *Chain) Execute(ctx context.Context, pc *types.ProcessingContext) error {
	pc.Stage = types.StageInit

	switch pc.Operation {
	case types.OpUpload, types.OpModify:
		return c.runUpload(ctx, pc)
	case types.OpDelete:
		return c.runDelete(ctx, pc)
	case types.OpDownload:
		fileID, _ := extractFileAndFamily(pc.Metadata)
		unlock := c.locks.Lock(fileID)
		defer unlock()
		return c.runDownload(ctx, pc)
	case types.OpView, types.OpShare:
		fileID, _ := extractFileAndFamily(pc.Metadata)
		unlock := c.locks.Lock(fileID)
		defer unlock()
		return c.runView(ctx, pc)
	default:
		pc.Err = errors.New(errors.KindInternal, "unknown operation type").WithComponent("interceptor")
		return pc.Err
	}
}

// fail records err on pc and returns it, without advancing pc.Stage further.
func fail(pc *types.ProcessingContext, err error) error {
	pc.Err = err
	return err
}

// rollback marks pc as rolled back and returns the triggering error.
func rollback(pc *types.ProcessingContext, err error) error {
	pc.Stage = types.StageRolledBack
	pc.Err = err
	return err
}
