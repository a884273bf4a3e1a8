package types

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// Kind tells whether a column holds numbers or text
type Kind uint8

const (
	// Number columns hold float64 values
	Number Kind = iota
	// Text columns hold strings verbatim
	Text
)

// String implements fmt.Stringer
func (k Kind) String() string {
	switch k {
	case Number:
		return "number"
	case Text:
		return "text"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Column is one named field of a series schema
type Column struct {
	Name string
	Kind Kind
}

// Value is a single numeric-or-text field value
type Value struct {
	kind Kind
	num  float64
	text string
}

// NumberValue returns a numeric value
func NumberValue(f float64) Value { return Value{kind: Number, num: f} }

// TextValue returns a text value
func TextValue(s string) Value { return Value{kind: Text, text: s} }

// Kind returns the kind of the value
func (v Value) Kind() Kind { return v.kind }

// Float returns the numeric value and whether v is numeric
func (v Value) Float() (float64, bool) {
	if v.kind != Number {
		return 0, false
	}
	return v.num, true
}

// String renders the value the way it is written in a CSV cell
func (v Value) String() string {
	if v.kind == Text {
		return v.text
	}
	return strconv.FormatFloat(v.num, 'f', -1, 64)
}

// MarshalJSON encodes numbers as JSON numbers and text as JSON strings
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == Text {
		return json.Marshal(v.text)
	}
	return json.Marshal(v.num)
}

// UnmarshalJSON accepts a JSON number or a JSON string
func (v *Value) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = TextValue(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("value is neither number nor string: %w", err)
	}
	*v = NumberValue(f)
	return nil
}

// ParseNumber parses a finite decimal number; NaN and infinities are refused
func ParseNumber(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite number %q", s)
	}
	return f, nil
}

// Row maps a header name to its value
type Row map[string]Value

// Clone returns a shallow copy of the row
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Record is a row together with its date key
type Record struct {
	Key string `json:"key"`
	Row Row    `json:"row"`
}

// Observation is one row returned by a fetch capability:
// a date key followed by numeric fields in header order
type Observation struct {
	Date   string
	Fields []float64
}

// Snapshot is the persisted form of a series
type Snapshot struct {
	Name          string     `json:"name"`
	KeyHeader     string     `json:"key_header,omitempty"`
	Headers       []string   `json:"headers"`
	TextColumns   []string   `json:"text_columns,omitempty"`
	Records       []Record   `json:"records"`
	LastRefreshed *time.Time `json:"last_refreshed,omitempty"`
}

// Info summarizes a series
type Info struct {
	Name          string     `json:"name"`
	TotalRecords  int        `json:"total_records"`
	FirstDate     string     `json:"first_date,omitempty"`
	LastDate      string     `json:"last_date,omitempty"`
	Headers       []string   `json:"headers"`
	LastRefreshed *time.Time `json:"last_refreshed,omitempty"`
}
