package main

import (
	"fmt"
	"strings"

	"go.sazak.io/hrclock/clock"
)

// parseUnitList parses a comma separated list of unit names. Duplicates are
// dropped, keeping the first position. An empty list yields fallback.
func parseUnitList(list string, fallback clock.Unit) ([]clock.Unit, error) {
	if strings.TrimSpace(list) == "" {
		return []clock.Unit{fallback}, nil
	}

	var units []clock.Unit
	seen := make(map[clock.Unit]bool)
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("empty unit in list %q", list)
		}

		u, err := clock.ParseUnit(name)
		if err != nil {
			return nil, fmt.Errorf("unknown unit name: %s", name)
		}

		if seen[u] {
			continue
		}
		seen[u] = true
		units = append(units, u)
	}

	return units, nil
}

// formatDistance renders nanos once per unit, e.g. "1500ms 1s".
func formatDistance(nanos int64, units []clock.Unit) string {
	parts := make([]string, 0, len(units))
	for _, u := range units {
		v, err := clock.Convert(nanos, u)
		if err != nil {
			parts = append(parts, err.Error())
			continue
		}
		parts = append(parts, fmt.Sprintf("%d%s", v, u))
	}
	return strings.Join(parts, " ")
}
