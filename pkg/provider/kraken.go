package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/vjranagit/seriesstore/pkg/types"
)

const krakenURL = "https://api.kraken.com"

// dailyInterval is Kraken's OHLC interval in minutes for one day
const dailyInterval = 1440

var krakenColumns = []types.Column{
	{Name: "open", Kind: types.Number},
	{Name: "high", Kind: types.Number},
	{Name: "low", Kind: types.Number},
	{Name: "close", Kind: types.Number},
	{Name: "volume", Kind: types.Number},
}

// Kraken fetches daily OHLC candles of a currency pair (XBTUSD, XAUTUSD, ...)
// from the Kraken public API.
type Kraken struct {
	Pair    string
	BaseURL string
	Client  *http.Client
	Limiter *rate.Limiter
	Log     *slog.Logger
}

// Schema implements Schemer
func (k *Kraken) Schema() (string, []types.Column) {
	return "date", slices.Clone(krakenColumns)
}

type krakenResponse struct {
	Error  []string                   `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

// Fetch implements Fetcher. Rows are [date, open, high, low, close, volume]
// starting the day after lastDate.
func (k *Kraken) Fetch(ctx context.Context, lastDate string) ([]types.Observation, error) {
	var since int64
	if lastDate != "" {
		last, err := time.Parse(DateFormat, lastDate)
		if err != nil {
			return nil, fmt.Errorf("invalid last date %q: %w", lastDate, err)
		}
		since = last.AddDate(0, 0, 1).Unix()
	}

	base := k.BaseURL
	if base == "" {
		base = krakenURL
	}
	q := url.Values{}
	q.Set("pair", k.Pair)
	q.Set("interval", strconv.Itoa(dailyInterval))
	q.Set("since", strconv.FormatInt(since, 10))
	addr := base + "/0/public/OHLC?" + q.Encode()

	var resp krakenResponse
	if err := getJSON(ctx, k.Client, k.Limiter, addr, &resp); err != nil {
		return nil, err
	}
	if len(resp.Error) > 0 {
		return nil, fmt.Errorf("kraken API error: %s", strings.Join(resp.Error, ", "))
	}

	// result holds one entry named after the pair plus "last"
	var names []string
	for name := range resp.Result {
		if name != "last" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, nil
	}
	slices.Sort(names)

	var candles [][]json.RawMessage
	if err := json.Unmarshal(resp.Result[names[0]], &candles); err != nil {
		return nil, fmt.Errorf("failed to decode candles: %w", err)
	}

	rows := make([]types.Observation, 0, len(candles))
	for _, c := range candles {
		row, err := parseCandle(c)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	if k.Log != nil {
		k.Log.Debug("received candles", "rows", len(rows))
	}
	return rows, nil
}

// parseCandle maps [time, open, high, low, close, vwap, volume, count]
// to an observation; prices arrive as decimal strings.
func parseCandle(c []json.RawMessage) (types.Observation, error) {
	if len(c) < 7 {
		return types.Observation{}, errors.New("short candle")
	}
	var ts int64
	if err := json.Unmarshal(c[0], &ts); err != nil {
		return types.Observation{}, fmt.Errorf("invalid candle time: %w", err)
	}

	fields := make([]float64, 0, 5)
	for _, i := range []int{1, 2, 3, 4, 6} {
		var s string
		if err := json.Unmarshal(c[i], &s); err != nil {
			return types.Observation{}, fmt.Errorf("invalid candle field %d: %w", i, err)
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return types.Observation{}, fmt.Errorf("invalid candle field %d: %w", i, err)
		}
		fields = append(fields, d.InexactFloat64())
	}

	return types.Observation{
		Date:   time.Unix(ts, 0).UTC().Format(DateFormat),
		Fields: fields,
	}, nil
}
