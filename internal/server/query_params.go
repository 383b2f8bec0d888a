package server

import (
	"errors"
	"strconv"
	"strings"
)

const defaultWindowDays = 7

func parseDays(value string) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultWindowDays, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil || parsed < 1 {
		return 0, errors.New("invalid_days")
	}
	return parsed, nil
}

func parseLimit(value string) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil || parsed < 0 {
		return 0, errors.New("invalid_limit")
	}
	return parsed, nil
}

func parseProvider(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
