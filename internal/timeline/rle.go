// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

package timeline

import (
	"fmt"

	"github.com/goccy/go-json"
)

// NullSentinel encodes a null (dropout) run in RLE payloads. Categorical
// values are encoded verbatim, so "~" is reserved.
const NullSentinel = "~"

// EncodeRLE run-length encodes a dense series into a JSON string: an
// array of [value, runLength] pairs where null is the "~" sentinel.
// Sequential equal values collapse into one pair.
func EncodeRLE(values []Value) (string, error) {
	pairs := make([][2]any, 0, len(values))
	for i := 0; i < len(values); {
		v := values[i]
		run := 1
		for i+run < len(values) && values[i+run] == v {
			run++
		}
		encoded := v
		if v == nil {
			encoded = NullSentinel
		}
		pairs = append(pairs, [2]any{encoded, run})
		i += run
	}

	out, err := json.Marshal(pairs)
	if err != nil {
		return "", fmt.Errorf("timeline: encode rle: %w", err)
	}
	return string(out), nil
}

// DecodeRLE is the inverse of EncodeRLE. Numeric values decode as
// float64, matching the store's normalized representation.
func DecodeRLE(s string) ([]Value, error) {
	var pairs [][]json.RawMessage
	if err := json.Unmarshal([]byte(s), &pairs); err != nil {
		return nil, fmt.Errorf("timeline: decode rle: %w", err)
	}

	var values []Value
	for i, pair := range pairs {
		if len(pair) != 2 {
			return nil, fmt.Errorf("timeline: decode rle: pair %d has %d elements, want 2", i, len(pair))
		}

		var run int
		if err := json.Unmarshal(pair[1], &run); err != nil {
			return nil, fmt.Errorf("timeline: decode rle: pair %d run length: %w", i, err)
		}
		if run < 1 {
			return nil, fmt.Errorf("timeline: decode rle: pair %d has non-positive run %d", i, run)
		}

		var raw any
		if err := json.Unmarshal(pair[0], &raw); err != nil {
			return nil, fmt.Errorf("timeline: decode rle: pair %d value: %w", i, err)
		}
		if raw == NullSentinel {
			raw = nil
		}

		for n := 0; n < run; n++ {
			values = append(values, raw)
		}
	}
	return values, nil
}
