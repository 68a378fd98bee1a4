package services

import (
	"github.com/rs/zerolog"

	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/bus"
	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/cache"
	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/evallog"
	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/repository"
	"github.com/switchyard-io/switchyard/pkg/auth"
)

// Services holds all service instances
type Services struct {
	Snapshot    *SnapshotService
	Decision    *DecisionService
	Outbox      *OutboxService
	Project     *ProjectService
	Environment *EnvironmentService
	Flag        *FlagService
	Segment     *SegmentService
}

// New wires the service layer. The snapshot service feeds the cache, the
// outbox service drains committed writes into cache invalidations and bus
// events, and the CRUD services hand their outbox rows to it after commit.
func New(
	repos *repository.Repositories,
	snapshotCache *cache.SnapshotCache,
	changeBus *bus.ChangeBus,
	sink *evallog.Sink,
	sdkKeys *auth.SDKKeyManager,
	logger zerolog.Logger,
) *Services {
	outbox := NewOutboxService(repos.Outbox, snapshotCache, changeBus, logger)
	return &Services{
		Snapshot:    NewSnapshotService(repos, logger),
		Decision:    NewDecisionService(snapshotCache, sink, logger),
		Outbox:      outbox,
		Project:     NewProjectService(repos, sdkKeys, logger),
		Environment: NewEnvironmentService(repos, logger),
		Flag:        NewFlagService(repos, outbox, logger),
		Segment:     NewSegmentService(repos, outbox, logger),
	}
}
