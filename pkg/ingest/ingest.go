// Package ingest turns a delimited text payload into a populated series.
//
// The first line holds the headers. The delimiter is ';' unless splitting
// the header on ';' yields a single column, in which case ',' is used.
// Column 0 is the date key. Lines whose field count differs from the
// header count, or whose date key is empty, are skipped whole. A cell in a
// numeric column that does not parse as a number is kept as text.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/vjranagit/seriesstore/internal/logging"
	"github.com/vjranagit/seriesstore/pkg/series"
	"github.com/vjranagit/seriesstore/pkg/types"
)

// ErrNoHeader is returned for a payload without a header line
var ErrNoHeader = errors.New("payload has no header line")

// Options tune a parse
type Options struct {
	// TextColumns are kept verbatim; every other column is numeric, with
	// cells that do not parse kept as text.
	TextColumns []string
	// Now stamps the series; defaults to time.Now.
	Now func() time.Time
	// Log defaults to the "ingest" component logger.
	Log *slog.Logger
}

// Report describes what a parse accepted and skipped
type Report struct {
	Delimiter rune
	Lines     int
	Ingested  int
	Rejected  int
}

// DetectDelimiter picks ';' or ',' from the header line
func DetectDelimiter(header string) rune {
	if len(strings.Split(header, ";")) == 1 {
		return ','
	}
	return ';'
}

// Schema resolves the column kinds of a header line once, before any row
// is read
func Schema(headers []string, textColumns []string) []types.Column {
	cols := make([]types.Column, len(headers))
	for i, h := range headers {
		cols[i] = types.Column{Name: h, Kind: types.Number}
		if slices.Contains(textColumns, h) {
			cols[i].Kind = types.Text
		}
	}
	return cols
}

// Parse reads a whole payload into a new series named name
func Parse(name string, r io.Reader, opts Options) (*series.Series, Report, error) {
	log := opts.Log
	if log == nil {
		log = logging.Component("ingest")
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, Report{}, fmt.Errorf("failed to read payload: %w", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	header := strings.TrimRight(lines[0], "\r")
	if strings.TrimSpace(header) == "" {
		return nil, Report{}, ErrNoHeader
	}

	report := Report{Delimiter: DetectDelimiter(header)}
	sep := string(report.Delimiter)

	headers := strings.Split(header, sep)
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}
	schema := Schema(headers[1:], opts.TextColumns)

	records := make([]types.Record, 0, len(lines)-1)
	for n, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		report.Lines++

		rec, err := parseLine(line, sep, len(headers), schema)
		if err != nil {
			report.Rejected++
			log.Debug("skipping line", "series", name, "line", n+2, "error", err)
			continue
		}
		records = append(records, rec)
	}

	s := series.NewBulk(name, headers[0], schema, records, now().UTC())
	report.Ingested = len(records)

	log.Info("ingested series", "series", name,
		"records", s.Len(), "rejected", report.Rejected, "delimiter", sep)
	return s, report, nil
}

func parseLine(line, sep string, width int, schema []types.Column) (types.Record, error) {
	fields := strings.Split(line, sep)
	if len(fields) != width {
		return types.Record{}, fmt.Errorf("expected %d fields, got %d", width, len(fields))
	}

	key := strings.TrimSpace(fields[0])
	if key == "" {
		return types.Record{}, errors.New("empty date key")
	}

	row := make(types.Row, len(schema))
	for i, col := range schema {
		cell := strings.TrimSpace(fields[i+1])
		if cell == "" {
			continue
		}
		if col.Kind == types.Text {
			row[col.Name] = types.TextValue(cell)
			continue
		}
		f, err := types.ParseNumber(cell)
		if err != nil {
			// not a number: the cell is kept verbatim
			row[col.Name] = types.TextValue(cell)
			continue
		}
		row[col.Name] = types.NumberValue(f)
	}
	return types.Record{Key: key, Row: row}, nil
}

// Open returns a reader over a seed source: an http(s) URL or a local path
func Open(ctx context.Context, client *http.Client, source string) (io.ReadCloser, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		f, err := os.Open(source)
		if err != nil {
			return nil, fmt.Errorf("failed to open seed file: %w", err)
		}
		return f, nil
	}

	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download seed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("cannot http GET %v/%v: %v", resp.Request.URL.Host, resp.Request.URL.Path, resp.Status)
	}
	return resp.Body, nil
}

// Load opens source and parses it
func Load(ctx context.Context, client *http.Client, name, source string, opts Options) (*series.Series, Report, error) {
	rc, err := Open(ctx, client, source)
	if err != nil {
		return nil, Report{}, err
	}
	defer rc.Close()
	return Parse(name, rc, opts)
}
