package usage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"storeflow/logger"
	"storeflow/models"
)

// ErrInvalidRange is returned when start_date falls after end_date.
var ErrInvalidRange = errors.New("start_date is after end_date")

// activeWindowDays is the trailing window for the active-store metric: a
// store counts as active on day d if it had an order in [d-6, d].
const activeWindowDays = 7

// UsageStore is the slice of the store consumed by the reader.
type UsageStore interface {
	ScanStoreDays(ctx context.Context, from, to string) ([]models.StoreDayRow, error)
	ScanDays(ctx context.Context, from, to string) ([]models.DayRow, error)
}

// Service reconstructs the daily active-store series from the per-store-day
// counters and merges in the lifecycle counters owned by the installation
// subsystem.
type Service struct {
	store UsageStore
	log   *logger.Log
}

func NewService(store UsageStore) *Service {
	return &Service{store: store, log: logger.GetLogger()}
}

// DailyUsage builds the per-day series over [start, end] inclusive. Any scan
// failure fails the whole call; no partial series is returned.
func (s *Service) DailyUsage(ctx context.Context, start, end time.Time) (models.UsageReport, error) {
	start = day(start)
	end = day(end)
	if end.Before(start) {
		return models.UsageReport{}, ErrInvalidRange
	}

	// The store-day scan reaches back 6 extra days so the first day of the
	// range sees its full trailing window.
	windowStart := start.AddDate(0, 0, -(activeWindowDays - 1))

	var storeRows []models.StoreDayRow
	var dayRows []models.DayRow

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := s.store.ScanStoreDays(gctx, windowStart.Format(models.DateLayout), end.Format(models.DateLayout))
		if err != nil {
			return fmt.Errorf("scan store activity: %w", err)
		}
		storeRows = rows
		return nil
	})
	g.Go(func() error {
		rows, err := s.store.ScanDays(gctx, start.Format(models.DateLayout), end.Format(models.DateLayout))
		if err != nil {
			return fmt.Errorf("scan daily stats: %w", err)
		}
		dayRows = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		return models.UsageReport{}, err
	}

	activeByDate := make(map[string]map[string]struct{})
	for _, row := range storeRows {
		if row.OrderCount <= 0 {
			continue
		}
		seqs := activeByDate[row.OrderDate]
		if seqs == nil {
			seqs = make(map[string]struct{})
			activeByDate[row.OrderDate] = seqs
		}
		seqs[row.Seq] = struct{}{}
	}

	dayByDate := make(map[string]models.DayRow, len(dayRows))
	for _, row := range dayRows {
		dayByDate[row.OrderDate] = row
	}

	series := make([]models.DailyUsage, 0, int(end.Sub(start).Hours()/24)+1)
	actives := make([]int, 0, cap(series))
	var lastInstalled, lastChurned int
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		date := d.Format(models.DateLayout)

		seen := make(map[string]struct{})
		for w := d.AddDate(0, 0, -(activeWindowDays - 1)); !w.After(d); w = w.AddDate(0, 0, 1) {
			for seq := range activeByDate[w.Format(models.DateLayout)] {
				seen[seq] = struct{}{}
			}
		}

		entry := models.DailyUsage{Date: date, Active: len(seen)}
		if row, ok := dayByDate[date]; ok {
			entry.OrderCount = row.OrderCount
			entry.NewInstalls = row.NewInstalls
			entry.NewChurns = row.NewChurns
			if row.CumulativeInstalled != nil {
				lastInstalled = *row.CumulativeInstalled
			}
			if row.CumulativeChurned != nil {
				lastChurned = *row.CumulativeChurned
			}
		}
		entry.CumulativeInstalled = lastInstalled
		entry.CumulativeChurned = lastChurned

		series = append(series, entry)
		actives = append(actives, entry.Active)
	}

	report := models.UsageReport{
		Summary:    summarize(start, end, actives),
		DailyUsage: series,
	}

	log := s.log.WithComponent("usage")
	log.LogMetric("usage", "store_day_rows_scanned", len(storeRows), "counter", logger.Fields{})
	log.LogMetric("usage", "day_rows_scanned", len(dayRows), "counter", logger.Fields{})
	log.LogMetric("usage", "series_days", len(series), "gauge", logger.Fields{})
	log.LogMetric("usage", "max_daily_active", report.Summary.MaxDailyActive, "gauge", logger.Fields{})

	log.WithFields(logger.Fields{
		"period":     report.Summary.Period,
		"days":       len(series),
		"stores_max": report.Summary.MaxDailyActive,
	}).Debug("daily usage series built")

	return report, nil
}

// summarize reduces the active series over days that saw any activity.
func summarize(start, end time.Time, actives []int) models.UsageSummary {
	sum, days, max := 0, 0, 0
	for _, a := range actives {
		if a <= 0 {
			continue
		}
		sum += a
		days++
		if a > max {
			max = a
		}
	}

	avg := 0.0
	if days > 0 {
		avg = math.Round(float64(sum)/float64(days)*10) / 10
	}

	return models.UsageSummary{
		Period:         fmt.Sprintf("%s ~ %s", start.Format(models.DateLayout), end.Format(models.DateLayout)),
		TotalDays:      days,
		AvgDailyActive: avg,
		MaxDailyActive: max,
	}
}

// day normalizes a timestamp to midnight UTC.
func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
