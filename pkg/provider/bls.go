package provider

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/stat"

	"github.com/vjranagit/seriesstore/pkg/types"
)

const blsURL = "https://api.bls.gov"

// regressionWindow is the number of trailing daily points the projection
// is fitted on
const regressionWindow = 365

var blsColumns = []types.Column{
	{Name: "CPI", Kind: types.Number},
	{Name: "daily_multiplicator", Kind: types.Number},
}

// BLS builds a daily CPI series from the monthly figures of the Bureau of
// Labor Statistics (series CUUR0000SA0 is CPI-U).
//
// Monthly values are interpolated linearly between month starts, the tail
// is projected up to today with an ordinary least squares fit over the last
// year of daily points, and each day carries its multiplier against the
// previous day.
type BLS struct {
	SeriesID string
	BaseURL  string
	Client   *http.Client
	Limiter  *rate.Limiter
	Now      func() time.Time
	Log      *slog.Logger
}

// Schema implements Schemer
func (b *BLS) Schema() (string, []types.Column) {
	return "timestamp", slices.Clone(blsColumns)
}

type blsRequest struct {
	SeriesID  []string `json:"seriesid"`
	StartYear string   `json:"startyear"`
	EndYear   string   `json:"endyear"`
}

type blsResponse struct {
	Status  string   `json:"status"`
	Message []string `json:"message"`
	Results struct {
		Series []struct {
			Data []struct {
				Year   string `json:"year"`
				Period string `json:"period"`
				Value  string `json:"value"`
			} `json:"data"`
		} `json:"series"`
	} `json:"Results"`
}

// monthPoint is one monthly CPI figure
type monthPoint struct {
	year  int
	month time.Month
	value float64
}

// dayPoint is one interpolated or projected daily CPI value
type dayPoint struct {
	day   time.Time
	value float64
}

// Fetch implements Fetcher. Rows are [date, CPI, daily_multiplicator].
func (b *BLS) Fetch(ctx context.Context, lastDate string) ([]types.Observation, error) {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	today := now().UTC().Truncate(24 * time.Hour)
	if lastDate == today.Format(DateFormat) {
		return nil, nil
	}

	monthly, err := b.fetchMonthly(ctx, today.Year()-2, today.Year())
	if err != nil {
		return nil, err
	}

	daily := interpolate(monthly)
	if len(daily) == 0 {
		return nil, nil
	}
	daily = project(daily, today)

	rows := multipliers(daily, lastDate)
	if b.Log != nil {
		b.Log.Debug("prepared daily rows", "monthly", len(monthly), "daily", len(daily), "rows", len(rows))
	}
	return rows, nil
}

func (b *BLS) fetchMonthly(ctx context.Context, startYear, endYear int) ([]monthPoint, error) {
	base := b.BaseURL
	if base == "" {
		base = blsURL
	}
	req := blsRequest{
		SeriesID:  []string{b.SeriesID},
		StartYear: strconv.Itoa(startYear),
		EndYear:   strconv.Itoa(endYear),
	}

	var resp blsResponse
	if err := postJSON(ctx, b.Client, b.Limiter, base+"/publicAPI/v2/timeseries/data/", req, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "REQUEST_SUCCEEDED" {
		return nil, fmt.Errorf("BLS API error: %s", strings.Join(resp.Message, "; "))
	}
	if len(resp.Results.Series) == 0 {
		return nil, nil
	}

	var points []monthPoint
	for _, d := range resp.Results.Series[0].Data {
		// M13 is the annual average
		if !strings.HasPrefix(d.Period, "M") || d.Period == "M13" {
			continue
		}
		month, err := strconv.Atoi(d.Period[1:])
		if err != nil || month < 1 || month > 12 {
			continue
		}
		year, err := strconv.Atoi(d.Year)
		if err != nil {
			continue
		}
		// unavailable months come back as "-"
		value, err := types.ParseNumber(strings.TrimSpace(d.Value))
		if err != nil {
			continue
		}
		points = append(points, monthPoint{year: year, month: time.Month(month), value: value})
	}

	slices.SortFunc(points, func(a, b monthPoint) int {
		if a.year != b.year {
			return a.year - b.year
		}
		return int(a.month) - int(b.month)
	})
	return points, nil
}

// interpolate spreads each month linearly over its days, up to (not
// including) the start of the last month.
func interpolate(monthly []monthPoint) []dayPoint {
	var daily []dayPoint
	for i := 0; i+1 < len(monthly); i++ {
		from, to := monthly[i], monthly[i+1]
		start := time.Date(from.year, from.month, 1, 0, 0, 0, 0, time.UTC)
		end := time.Date(to.year, to.month, 1, 0, 0, 0, 0, time.UTC)

		days := int(end.Sub(start).Hours() / 24)
		if days <= 0 {
			continue
		}
		step := (to.value - from.value) / float64(days)
		for j := 0; j < days; j++ {
			daily = append(daily, dayPoint{
				day:   start.AddDate(0, 0, j),
				value: from.value + float64(j)*step,
			})
		}
	}
	return daily
}

// project extends daily up to today along the least squares line fitted on
// the trailing regressionWindow points.
func project(daily []dayPoint, today time.Time) []dayPoint {
	last := daily[len(daily)-1].day
	if !last.Before(today) {
		return daily
	}

	window := daily[max(0, len(daily)-regressionWindow):]
	xs := make([]float64, len(window))
	ys := make([]float64, len(window))
	for i, p := range window {
		xs[i] = float64(i)
		ys[i] = p.value
	}
	intercept, slope := ys[0], 0.0
	if len(window) > 1 {
		intercept, slope = stat.LinearRegression(xs, ys, nil, false)
	}

	x := float64(len(window))
	for day := last.AddDate(0, 0, 1); !day.After(today); day = day.AddDate(0, 0, 1) {
		daily = append(daily, dayPoint{day: day, value: intercept + slope*x})
		x++
	}
	return daily
}

// multipliers formats the points after lastDate, each with its ratio to
// the previous day.
func multipliers(daily []dayPoint, lastDate string) []types.Observation {
	start := slices.IndexFunc(daily, func(p dayPoint) bool {
		return p.day.Format(DateFormat) > lastDate
	})
	if start < 0 {
		return nil
	}

	rows := make([]types.Observation, 0, len(daily)-start)
	for i := start; i < len(daily); i++ {
		mult := 1.0
		if i > 0 && daily[i-1].value != 0 {
			prev := daily[i-1].value
			mult = 1 + (daily[i].value-prev)/prev
		}
		rows = append(rows, types.Observation{
			Date:   daily[i].day.Format(DateFormat),
			Fields: []float64{round(daily[i].value, 4), round(mult, 6)},
		})
	}
	return rows
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
