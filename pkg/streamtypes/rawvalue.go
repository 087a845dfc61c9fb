package streamtypes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"polymarket-streamcore/pkg/fixedpoint"
)

// RawDecimal holds a decimal field exactly as it arrived on the wire,
// accepting either a quoted string (the common case, preserving exact
// precision) or a bare JSON number (accepted only because json.Number's
// textual form is itself lossless — it is never passed through float64).
type RawDecimal string

func (r *RawDecimal) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*r = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("unmarshal quoted decimal: %w", err)
		}
		*r = RawDecimal(s)
		return nil
	}
	// Bare numeric literal: re-encode through json.Number so we keep the
	// exact textual digits instead of routing through float64.
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("unmarshal numeric decimal: %w", err)
	}
	*r = RawDecimal(n.String())
	return nil
}

// Decimal parses the raw value into a FixedDecimal. Returns a zero value
// and no error for an empty/absent field, since many wire events omit
// fields that don't apply.
func (r RawDecimal) Decimal() (fixedpoint.FixedDecimal, error) {
	if r == "" {
		return fixedpoint.Zero, nil
	}
	return fixedpoint.Parse(string(r))
}

// RawMillis holds an unsigned-milliseconds-since-epoch timestamp, accepted
// as either a quoted string or a bare integer.
type RawMillis string

func (r *RawMillis) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*r = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("unmarshal quoted timestamp: %w", err)
		}
		*r = RawMillis(s)
		return nil
	}
	*r = RawMillis(b)
	return nil
}

// Millis parses the value to an unsigned millisecond count. Returns 0 for
// an empty field.
func (r RawMillis) Millis() (uint64, error) {
	if r == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(string(r), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse timestamp %q: %w", r, err)
	}
	return v, nil
}
