package stats

import (
	"errors"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/ayusman/headcount/internal/store"
)

// Forecast tuning.
const (
	MaxForecastPeriods = 168
	MinHistoryPoints   = 24

	averageWindow = 7 * 24
	trendMinimum  = 48
	z95           = 1.96
)

// Forecast models.
const (
	ModelFallback      = "constant_fallback"
	ModelMovingAverage = "simple_moving_average"
)

// ErrInvalidPeriods is returned for a forecast horizon outside 1..MaxForecastPeriods.
var ErrInvalidPeriods = errors.New("stats: invalid forecast periods")

// Point is one forecast hour.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Predicted float64   `json:"predicted_count"`
	Lower     float64   `json:"lower_bound"`
	Upper     float64   `json:"upper_bound"`
}

// Forecast is a run of hourly predictions.
type Forecast struct {
	Zone   string  `json:"zone"`
	Model  string  `json:"model_type"`
	Points []Point `json:"forecast"`
}

// fallbackForecast is used while there is too little history to fit.
func fallbackForecast(now time.Time, periods int) []Point {
	out := make([]Point, periods)
	for i := range out {
		out[i] = Point{
			Timestamp: now.Add(time.Duration(i+1) * time.Hour),
			Predicted: 10,
			Lower:     5,
			Upper:     15,
		}
	}
	return out
}

// movingAverageForecast projects the mean net count of the last week forward,
// adding a linear trend from the two halves of the history and scaling the
// trend by the hour-of-day profile. Bounds are ±1.96 standard deviations of
// the history, clamped at zero.
func movingAverageForecast(hours []store.HourlyCount, periods int) []Point {
	net := make([]float64, len(hours))
	byHour := make(map[int][]float64)
	for i, h := range hours {
		net[i] = float64(h.Entries - h.Exits)
		byHour[h.Hour.Hour()] = append(byHour[h.Hour.Hour()], net[i])
	}

	recent := stat.Mean(net[max(0, len(net)-averageWindow):], nil)

	var trend float64
	if len(net) > trendMinimum {
		half := len(net) / 2
		first := stat.Mean(net[:half], nil)
		second := stat.Mean(net[len(net)-half:], nil)
		trend = (second - first) / float64(half)
	}

	profile := make(map[int]float64, len(byHour))
	for h, vs := range byHour {
		profile[h] = stat.Mean(vs, nil)
	}

	sd := stat.StdDev(net, nil)
	last := hours[len(hours)-1].Hour

	out := make([]Point, periods)
	for i := range out {
		ts := last.Add(time.Duration(i+1) * time.Hour)

		factor := 1.0
		if recent > 0 {
			if p, ok := profile[ts.Hour()]; ok {
				factor = p / recent
			}
		}
		predicted := max(0, recent+trend*float64(i+1)*factor)

		out[i] = Point{
			Timestamp: ts,
			Predicted: predicted,
			Lower:     max(0, predicted-z95*sd),
			Upper:     max(0, predicted+z95*sd),
		}
	}
	return out
}
