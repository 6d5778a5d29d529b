package session

import (
	"context"
	"iter"
	"time"

	"github.com/nadmax/callscope/internal/analytics"
)

// DayAnalytic is one day of a range. Load fetches it on demand.
type DayAnalytic struct {
	Day       time.Time
	SliceName string
	Load      func(ctx context.Context) (analytics.Analytic, error)
}

// ForEachDay yields every calendar day of [start, end] without fetching
// anything; consumers call Load on the days they need and may stop early.
// The sequence can be ranged over any number of times.
func (s *Session) ForEachDay(start, end time.Time, deleted bool) iter.Seq[DayAnalytic] {
	first := analytics.TruncateDay(start.In(s.opts.Location))
	last := analytics.TruncateDay(end.In(s.opts.Location))

	return func(yield func(DayAnalytic) bool) {
		for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
			name := analytics.SliceName(day, day, deleted)
			d := DayAnalytic{
				Day:       day,
				SliceName: name,
				Load: func(ctx context.Context) (analytics.Analytic, error) {
					return s.GetAnalyticBySliceName(ctx, name)
				},
			}
			if !yield(d) {
				return
			}
		}
	}
}
