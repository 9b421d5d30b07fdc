package tools

import (
	"context"
	"fmt"
)

// Builtin tool names.
const (
	ToolGetWeather     = "get_weather"
	ToolSearchDatabase = "search_database"
)

// getWeather returns canned conditions for the requested location.
func getWeather(_ context.Context, args map[string]any) (map[string]any, error) {
	location, _ := args["location"].(string)
	if location == "" {
		location = "Unknown"
	}
	return map[string]any{
		"location":    location,
		"temperature": 28,
		"unit":        "celsius",
		"conditions":  "Partly Cloudy",
	}, nil
}

// searchDatabase returns a single canned hit for the query.
func searchDatabase(_ context.Context, args map[string]any) (map[string]any, error) {
	query, _ := args["query"].(string)
	return map[string]any{
		"results": []map[string]any{
			{"title": fmt.Sprintf("Result for %s", query), "score": 0.95},
		},
	}, nil
}
