package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/ratingsync/internal/rating"
)

var errCorruptFallback = errors.New("corrupt fallback records")

func decodeFallback(raw string, dst *[]rating.Record) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("%w: %v", errCorruptFallback, err)
	}
	return nil
}

func encodeFallback(fb []rating.Record) (string, error) {
	data, err := json.Marshal(fb)
	if err != nil {
		return "", fmt.Errorf("encode fallback records: %w", err)
	}
	return string(data), nil
}
