package main

import (
	"fmt"
	"strings"
)

// parseParams turns repeated Key=Value flags into a map. Later keys win.
func parseParams(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q (want Key=Value)", p)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}
