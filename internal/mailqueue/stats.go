package mailqueue

import (
	"context"
	"time"

	"github.com/bassline-events/mailroom-backend/pkg/enums"
	pkgerrors "github.com/bassline-events/mailroom-backend/pkg/errors"
)

// Stats is the read-only rollup served to monitoring and admin surfaces.
type Stats struct {
	Total     int64                      `json:"total"`
	ByStatus  map[enums.MailStatus]int64 `json:"by_status"`
	SentToday int64                      `json:"sent_today"`
	Sent7d    int64                      `json:"sent_7d"`
	Sent30d   int64                      `json:"sent_30d"`
}

// StatsService aggregates queue counts. It never mutates the queue.
type StatsService interface {
	Snapshot(ctx context.Context) (*Stats, error)
}

type statsService struct {
	repo Repository
	now  func() time.Time
}

// NewStatsService builds the aggregator over the shared repository.
func NewStatsService(repo Repository) (StatsService, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mail job repository required")
	}
	return &statsService{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *statsService) Snapshot(ctx context.Context) (*Stats, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count jobs by status")
	}

	stats := &Stats{ByStatus: counts}
	for _, count := range counts {
		stats.Total += count
	}

	now := s.now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	windows := []struct {
		since time.Time
		dest  *int64
	}{
		{startOfDay, &stats.SentToday},
		{now.AddDate(0, 0, -7), &stats.Sent7d},
		{now.AddDate(0, 0, -30), &stats.Sent30d},
	}
	for _, window := range windows {
		count, err := s.repo.CountSentSince(ctx, window.since)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count sent jobs")
		}
		*window.dest = count
	}
	return stats, nil
}
