package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dota-labs/dota-engine/pkg/apperrors"
	"github.com/dota-labs/dota-engine/pkg/models"
)

// JobsService reports scheduled-job health, used to answer "did the job that
// populates this column run".
type JobsService interface {
	// Overview reports the latest outcome of jobs. jobName may be empty for
	// all jobs; a non-empty name is resolved case-insensitively against the
	// snapshot first so typos fail fast instead of returning nothing.
	Overview(ctx context.Context, jobName string, lookbackDays int, includeRunning bool) ([]models.JobOverview, error)
}

type jobsService struct {
	connections ConnectionManager
	resolver    NameResolver
	logger      *zap.Logger
}

var _ JobsService = (*jobsService)(nil)

// NewJobsService creates a jobs service.
func NewJobsService(connections ConnectionManager, resolver NameResolver, logger *zap.Logger) JobsService {
	return &jobsService{
		connections: connections,
		resolver:    resolver,
		logger:      logger.Named("jobs"),
	}
}

func (s *jobsService) Overview(ctx context.Context, jobName string, lookbackDays int, includeRunning bool) ([]models.JobOverview, error) {
	name := strings.TrimSpace(jobName)
	if name != "" {
		if canonical, ok := s.resolver.ResolveJob(name); ok {
			name = canonical
		}
	}
	overviews, err := s.connections.Provider().JobsOverview(ctx, name, lookbackDays, includeRunning)
	if err != nil {
		return nil, err
	}
	if name != "" && len(overviews) == 0 {
		return nil, fmt.Errorf("job %q: %w", jobName, apperrors.ErrNotFound)
	}
	return overviews, nil
}
