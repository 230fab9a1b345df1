// Package testutil provides fixture tools used by the integration
// tests, adapted from the teacher's tests/tools fixtures
// (GetUserLocation / GetWeatherInLocation) into core.ToolDescriptor
// shape so they can be handed straight to an AgentExecutor or to
// internal/cache in tests without a live transport.
package testutil

import (
	"context"
	"encoding/json"

	"github.com/lizzyg/toolrouter/internal/core"
)

// WeatherArgs is the argument shape for GetWeatherInLocation.
type WeatherArgs struct {
	Location string `json:"location"`
}

// GetUserLocationTool mirrors the teacher's GetUserLocationTool fixture.
func GetUserLocationTool() core.ToolDescriptor {
	return core.ToolDescriptor{
		Name:        "location.get_user_location",
		Description: "Returns the user's current city and state",
		Schema:      map[string]any{"type": "object", "properties": map[string]any{}},
		Invoke: func(ctx context.Context, args []byte) (any, error) {
			return map[string]any{"location": "Portland, Oregon"}, nil
		},
	}
}

// GetWeatherInLocationTool mirrors the teacher's GetWeatherInLocationTool
// fixture, including its location-substitution behavior.
func GetWeatherInLocationTool() core.ToolDescriptor {
	return core.ToolDescriptor{
		Name:        "weather.get_weather_in_location",
		Description: "Returns current weather for a location",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"location": map[string]any{"type": "string"},
			},
			"required": []string{"location"},
		},
		Invoke: func(ctx context.Context, args []byte) (any, error) {
			var a WeatherArgs
			if len(args) > 0 {
				if err := json.Unmarshal(args, &a); err != nil {
					return nil, err
				}
			}
			return map[string]any{"weather": "Sunny and mild in " + a.Location}, nil
		},
	}
}

// Tools returns both fixture tools in the order the teacher's
// LocationWeatherTools helper did.
func Tools() []core.ToolDescriptor {
	return []core.ToolDescriptor{GetUserLocationTool(), GetWeatherInLocationTool()}
}
