package server

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

const dateOnlyLayout = "2006-01-02"

func parseSnowflakeID(value string) (snowflake.ID, bool) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || parsed == 0 {
		return 0, false
	}
	return parsed, true
}

// parseSnowflakeIDs parses every value and reports the first invalid one.
func parseSnowflakeIDs(values []string) ([]snowflake.ID, string, bool) {
	ids := make([]snowflake.ID, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			id, ok := parseSnowflakeID(part)
			if !ok {
				return nil, part, false
			}
			ids = append(ids, id)
		}
	}
	return ids, "", true
}

func parseDate(value string) (time.Time, bool) {
	trimmed := strings.TrimSpace(value)
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return parsed.UTC(), true
	}
	if parsed, err := time.Parse(dateOnlyLayout, trimmed); err == nil {
		return parsed, true
	}
	return time.Time{}, false
}
