package ingest

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/vjranagit/seriesstore/pkg/series"
)

// ErrUnrepresentable is returned by Write for a cell Parse could not read back
var ErrUnrepresentable = errors.New("cell cannot be written as delimited text")

// Write exports s in the format Parse reads: a header line with the key
// column first, then one line per key in ascending order. Cells are written
// verbatim. A cell holding the delimiter, a line break or leading or
// trailing whitespace fails the export before anything is written.
func Write(w io.Writer, s *series.Series, delimiter rune) error {
	sep := string(delimiter)

	keyHeader := s.KeyHeader()
	if keyHeader == "" {
		keyHeader = "timestamp"
	}
	headers := s.Headers()

	var b strings.Builder
	line := make([]string, len(headers)+1)
	writeLine := func(what string) error {
		for _, cell := range line {
			if err := checkCell(cell, sep); err != nil {
				return fmt.Errorf("failed to write %s: %w", what, err)
			}
		}
		b.WriteString(strings.Join(line, sep))
		b.WriteByte('\n')
		return nil
	}

	line[0] = keyHeader
	copy(line[1:], headers)
	if err := writeLine("header"); err != nil {
		return err
	}

	snap := s.Snapshot()
	for _, rec := range snap.Records {
		line[0] = rec.Key
		for i, h := range headers {
			line[i+1] = ""
			if v, ok := rec.Row[h]; ok {
				line[i+1] = v.String()
			}
		}
		if err := writeLine(rec.Key); err != nil {
			return err
		}
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}

func checkCell(cell, sep string) error {
	switch {
	case strings.Contains(cell, sep):
		return fmt.Errorf("%w: %q contains the delimiter", ErrUnrepresentable, cell)
	case strings.ContainsAny(cell, "\r\n"):
		return fmt.Errorf("%w: %q contains a line break", ErrUnrepresentable, cell)
	case strings.TrimSpace(cell) != cell:
		return fmt.Errorf("%w: %q has surrounding whitespace", ErrUnrepresentable, cell)
	}
	return nil
}
