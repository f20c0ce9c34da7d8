package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// float32SliceToString renders a vector as space-separated decimal floats,
// the printable encoding vectors use inside AOF records.
func float32SliceToString(vec []float32) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return strings.Join(parts, " ")
}

// parseVectorFromString parses the encoding float32SliceToString produces.
func parseVectorFromString(s string) ([]float32, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, errors.New("empty vector string")
	}
	vec := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", f, err)
		}
		vec[i] = float32(v)
	}
	return vec, nil
}

// parseEntryID parses the decimal entry ID used in AOF record arguments.
func parseEntryID(arg []byte) (uint32, error) {
	id, err := strconv.ParseUint(string(arg), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid entry ID %q: %w", arg, err)
	}
	return uint32(id), nil
}

// formatEntryID is the inverse of parseEntryID.
func formatEntryID(id uint32) []byte {
	return []byte(strconv.FormatUint(uint64(id), 10))
}
