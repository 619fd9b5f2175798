// -----------------------------------------------------------------------
// Maintain - scheduled database maintenance (value-log GC, job retention)
// -----------------------------------------------------------------------

package maintain

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/argus/internal/common"
	"github.com/ternarybob/argus/internal/interfaces"
)

// GCRunner triggers a storage garbage collection pass.
type GCRunner interface {
	RunValueLogGC() error
}

// Service runs periodic database maintenance: Badger value-log GC and the
// terminal-job retention sweep. Running jobs are never swept regardless of
// age.
type Service struct {
	cron    *cron.Cron
	gc      GCRunner
	storage interfaces.JobStorage
	config  common.MaintainConfig
	logger  arbor.ILogger
}

func NewService(gc GCRunner, storage interfaces.JobStorage, config common.MaintainConfig, logger arbor.ILogger) *Service {
	return &Service{
		cron:    cron.New(),
		gc:      gc,
		storage: storage,
		config:  config,
		logger:  logger,
	}
}

// Start registers the configured schedules and starts the cron runner.
func (s *Service) Start() error {
	if s.config.GCSchedule != "" {
		if _, err := s.cron.AddFunc(s.config.GCSchedule, s.runGC); err != nil {
			return err
		}
	}

	if s.config.RetentionSchedule != "" && s.config.RetentionDays > 0 {
		if _, err := s.cron.AddFunc(s.config.RetentionSchedule, s.runRetention); err != nil {
			return err
		}
	}

	s.cron.Start()

	s.logger.Info().
		Str("gc_schedule", s.config.GCSchedule).
		Str("retention_schedule", s.config.RetentionSchedule).
		Int("retention_days", s.config.RetentionDays).
		Msg("Maintenance scheduler started")

	return nil
}

// Stop stops the cron runner and waits for in-flight maintenance tasks.
func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Service) runGC() {
	if err := s.gc.RunValueLogGC(); err != nil {
		s.logger.Warn().Err(err).Msg("Value log GC failed")
		return
	}
	s.logger.Debug().Msg("Value log GC completed")
}

func (s *Service) runRetention() {
	cutoff := time.Now().AddDate(0, 0, -s.config.RetentionDays)

	deleted, err := s.storage.DeleteJobsBefore(context.Background(), cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Retention sweep failed")
		return
	}

	if deleted > 0 {
		s.logger.Info().
			Int("deleted", deleted).
			Str("cutoff", cutoff.Format(time.RFC3339)).
			Msg("Retention sweep removed terminal jobs")
	}
}
