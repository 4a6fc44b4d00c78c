// Package jsonutil provides JSON marshaling helpers used across the CLI.
package jsonutil

import "encoding/json"

// MarshalIndentWithNewline marshals v with two-space indentation and appends
// a trailing newline, matching the format produced by standard editors.
func MarshalIndentWithNewline(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
