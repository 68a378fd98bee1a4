package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Repositories holds all repository instances
type Repositories struct {
	Project     *ProjectRepository
	Environment *EnvironmentRepository
	Flag        *FlagRepository
	Segment     *SegmentRepository
	Schedule    *ScheduleRepository
	Outbox      *OutboxRepository
	AuditLog    *AuditLogRepository
}

// New creates a new repository collection
func New(db *pgxpool.Pool, logger zerolog.Logger) *Repositories {
	return &Repositories{
		Project:     NewProjectRepository(db, logger),
		Environment: NewEnvironmentRepository(db, logger),
		Flag:        NewFlagRepository(db, logger),
		Segment:     NewSegmentRepository(db, logger),
		Schedule:    NewScheduleRepository(db, logger),
		Outbox:      NewOutboxRepository(db, logger),
		AuditLog:    NewAuditLogRepository(db, logger),
	}
}
