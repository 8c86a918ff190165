// Command aria-weather-mcp serves the built-in weather tools over MCP stdio,
// so any MCP-capable agent can use them as an external tool server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"aria/internal/logging"
	"aria/internal/mcp"
	"aria/internal/toolregistry"
	"aria/internal/tools/weather"
)

const version = "0.3.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "aria-weather-mcp:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.NewComponentLogger("WeatherMCP")

	service := weather.NewService(
		os.Getenv("WEATHER_BASE_URL"),
		os.Getenv("WEATHER_API_KEY"),
		nil,
	)

	registry := toolregistry.NewRegistry()
	if err := registry.Register(weather.NewCurrentWeather(service)); err != nil {
		return err
	}
	if err := registry.Register(weather.NewForecast(service)); err != nil {
		return err
	}

	logger.Info("Serving %d weather tool(s) on stdio", len(registry.List()))
	return mcp.NewServer("aria-weather", version, registry, os.Stdin, os.Stdout).Serve(ctx)
}
