package api

import (
	"fmt"
	"strings"
)

// joinArgs renders script arguments as one log message.
func joinArgs(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		if a == nil {
			parts[i] = "nil"
			continue
		}
		parts[i] = fmt.Sprint(a)
	}
	return strings.Join(parts, " ")
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
