package db

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ISOLayout is the millisecond-precision UTC layout used for every stored
// timestamp. Fixed width keeps lexical order equal to chronological order.
const ISOLayout = "2006-01-02T15:04:05.000Z07:00"

// ISOTime is a time.Time that is stored and serialized as an ISO-8601 string.
type ISOTime struct {
	time.Time
}

// NewISOTime truncates t to milliseconds and normalizes it to UTC.
func NewISOTime(t time.Time) ISOTime {
	return ISOTime{Time: t.UTC().Truncate(time.Millisecond)}
}

func (t ISOTime) String() string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(ISOLayout)
}

// Scan implements sql.Scanner
func (t *ISOTime) Scan(src interface{}) error {
	if t == nil {
		return fmt.Errorf("dbtypes: Scan on nil *ISOTime")
	}
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		*t = NewISOTime(v)
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("dbtypes: cannot scan type %T into ISOTime", src)
	}
}

// Value implements driver.Valuer
func (t ISOTime) Value() (driver.Value, error) {
	if t.IsZero() {
		return nil, nil
	}
	return t.String(), nil
}

func (t ISOTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.String())
}

func (t *ISOTime) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return t.parse(s)
}

func (t *ISOTime) parse(s string) error {
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("dbtypes: parse timestamp %q: %w", s, err)
	}
	*t = NewISOTime(parsed)
	return nil
}

// NullFloat is a nullable coordinate. It maps to SQL NULL and JSON null.
type NullFloat struct {
	Float64 float64
	Valid   bool
}

// Float returns a valid NullFloat holding f.
func Float(f float64) NullFloat {
	return NullFloat{Float64: f, Valid: true}
}

// FloatPtr converts p into a NullFloat; nil yields an invalid value.
func FloatPtr(p *float64) NullFloat {
	if p == nil {
		return NullFloat{}
	}
	return Float(*p)
}

// Ptr returns nil for an invalid value.
func (n NullFloat) Ptr() *float64 {
	if !n.Valid {
		return nil
	}
	f := n.Float64
	return &f
}

// Scan implements sql.Scanner
func (n *NullFloat) Scan(src interface{}) error {
	if n == nil {
		return fmt.Errorf("dbtypes: Scan on nil *NullFloat")
	}
	switch v := src.(type) {
	case nil:
		*n = NullFloat{}
		return nil
	case float64:
		*n = Float(v)
		return nil
	case float32:
		*n = Float(float64(v))
		return nil
	case int64:
		*n = Float(float64(v))
		return nil
	case []byte:
		return n.parse(string(v))
	case string:
		return n.parse(v)
	default:
		return fmt.Errorf("dbtypes: cannot scan type %T into NullFloat", src)
	}
}

// Value implements driver.Valuer
func (n NullFloat) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return n.Float64, nil
}

func (n NullFloat) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Float64)
}

func (n *NullFloat) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*n = NullFloat{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = Float(f)
	return nil
}

func (n *NullFloat) parse(s string) error {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("dbtypes: parse float %q: %w", s, err)
	}
	*n = Float(f)
	return nil
}
