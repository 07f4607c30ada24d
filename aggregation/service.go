// Package aggregation collapses per-entity feature rows into one global
// daily series by summation.
package aggregation

import (
	"sort"
	"time"

	"example.com/epiforecast/features"
)

// GlobalRow is the summed feature vector for one date across all
// entities reporting on that date.
type GlobalRow struct {
	Date           time.Time `json:"date"`
	DailyConfirmed float64   `json:"daily_confirmed"`
	Lag3           float64   `json:"lag3"`
	Lag7           float64   `json:"lag7"`
	RollingAvg3    float64   `json:"rolling_avg3"`
	RollingAvg7    float64   `json:"rolling_avg7"`
}

// Vector returns the row's numeric fields in the fixed feature order
// shared by every downstream component:
// [daily, lag3, lag7, rollingAvg3, rollingAvg7].
func (r GlobalRow) Vector() []float64 {
	return []float64{r.DailyConfirmed, r.Lag3, r.Lag7, r.RollingAvg3, r.RollingAvg7}
}

// Aggregate groups feature rows by date and sums each numeric field
// across entities. Entities without a row on a given date simply
// contribute nothing to that date's sums. The result has one row per
// distinct date, sorted ascending.
//
// Note the inputs are already in stabilized log space, so this sums
// log-scale values across entities. That is not the log of the summed
// raw counts; it is the modeled behavior and is kept as such.
func Aggregate(rows []features.FeatureRow) []GlobalRow {
	byDate := make(map[time.Time]*GlobalRow)
	for _, row := range rows {
		date := row.Date.UTC().Truncate(24 * time.Hour)
		g, ok := byDate[date]
		if !ok {
			g = &GlobalRow{Date: date}
			byDate[date] = g
		}
		g.DailyConfirmed += row.DailyConfirmed
		g.Lag3 += row.Lag3
		g.Lag7 += row.Lag7
		g.RollingAvg3 += row.RollingAvg3
		g.RollingAvg7 += row.RollingAvg7
	}

	out := make([]GlobalRow, 0, len(byDate))
	for _, g := range byDate {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
