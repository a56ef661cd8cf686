package service

import (
	"context"
	"time"

	"github.com/shinyyama/komemarche-backend/internal/repository"
)

// OccurrenceStats is the admin view of one farm's pickup occurrence.
type OccurrenceStats struct {
	FarmID            uint64    `json:"farmId"`
	SlotCode          string    `json:"slotCode"`
	EventStart        time.Time `json:"eventStart"`
	Confirmed         int64     `json:"confirmed"`
	Cancelled         int64     `json:"cancelled"`
	Pending           int64     `json:"pending"`
	ConfirmedWeightKg int64     `json:"confirmedWeightKg"`
	CancellationRate  float64   `json:"cancellationRate"`
}

type StatsService interface {
	ByOccurrence(ctx context.Context, f repository.StatsFilter) ([]OccurrenceStats, error)
}

type statsService struct {
	repo repository.ReservationRepository
	loc  *time.Location
}

func NewStatsService(repo repository.ReservationRepository, loc *time.Location) StatsService {
	if loc == nil {
		loc = time.UTC
	}
	return &statsService{repo: repo, loc: loc}
}

func (s *statsService) ByOccurrence(ctx context.Context, f repository.StatsFilter) ([]OccurrenceStats, error) {
	rows, err := s.repo.OccurrenceStats(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]OccurrenceStats, 0, len(rows))
	for _, r := range rows {
		out = append(out, OccurrenceStats{
			FarmID:            r.FarmID,
			SlotCode:          r.SlotCode,
			EventStart:        r.EventStart.In(s.loc),
			Confirmed:         r.Confirmed,
			Cancelled:         r.Cancelled,
			Pending:           r.Pending,
			ConfirmedWeightKg: r.ConfirmedWeightKg,
			CancellationRate:  CancellationRate(r.Confirmed, r.Cancelled),
		})
	}
	return out, nil
}

// CancellationRate is cancelled / (confirmed + cancelled), 0 when neither happened.
func CancellationRate(confirmed, cancelled int64) float64 {
	total := confirmed + cancelled
	if total <= 0 {
		return 0
	}
	return float64(cancelled) / float64(total)
}
