package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"aria/internal/agent/ports"
	"aria/internal/agent/react"
	"aria/internal/config"
	"aria/internal/llm"
	"aria/internal/logging"
	"aria/internal/mcp"
	"aria/internal/observability"
	"aria/internal/session"
	"aria/internal/toolregistry"
	"aria/internal/tools/weather"
)

func isTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// runtime is the assembled agent: model client, tool registry, engine and the
// MCP server processes backing the bridged tools.
type runtime struct {
	cfg     *config.Config
	session *session.Session
	logger  logging.Logger
	clients []*mcp.Client
	procs   []*mcp.ServerProcess
}

func buildRuntime(ctx context.Context, flags *rootFlags) (*runtime, error) {
	if flags.debug {
		os.Setenv("ARIA_DEBUG", "1")
	}
	logger := logging.NewComponentLogger("CLI")

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("no API key configured: set llm.api_key or ARIA_LLM_API_KEY")
	}

	client, err := llm.NewOpenAIClient(cfg.LLM.Model, llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Timeout:     cfg.LLM.Timeout,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	registry := toolregistry.NewRegistry()
	registerBuiltinTools(registry, cfg, logger)

	rt := &runtime{cfg: cfg, logger: logger}
	rt.connectMCPServers(ctx, registry)

	engine := react.NewEngine(
		react.WithMaxIterations(cfg.Agent.MaxIterations),
		react.WithToolTimeout(cfg.Agent.ToolTimeout),
		react.WithSystemPrompt(cfg.Agent.SystemPrompt),
		react.WithMetrics(observability.NewMetrics(prometheus.DefaultRegisterer)),
	)
	services := react.Services{LLM: client, Registry: registry}

	opts := []session.SessionOption{}
	if cfg.Session.Dir != "" {
		store, err := session.NewFileStore(cfg.Session.Dir)
		if err != nil {
			logger.Warn("Session persistence disabled: %v", err)
		} else {
			opts = append(opts, session.WithStore(store))
		}
	}
	rt.session = session.New(engine, services, opts...)

	return rt, nil
}

func registerBuiltinTools(registry *toolregistry.Registry, cfg *config.Config, logger logging.Logger) {
	service := weather.NewService(cfg.Weather.BaseURL, cfg.Weather.APIKey, nil)
	cache := toolregistry.CacheConfig{TTL: 2 * time.Minute}
	for _, tool := range []ports.ToolExecutor{
		weather.NewCurrentWeather(service),
		weather.NewForecast(service),
	} {
		if err := registry.Register(toolregistry.NewCacheExecutor(tool, cache)); err != nil {
			logger.Warn("Failed to register builtin tool %s: %v", tool.Definition().Name, err)
		}
	}
}

// connectMCPServers launches each configured server and registers its tools.
// A server that fails to come up is skipped; the rest of the agent still runs.
func (rt *runtime) connectMCPServers(ctx context.Context, registry *toolregistry.Registry) {
	for _, server := range rt.cfg.MCPServers {
		proc := mcp.NewServerProcess(mcp.ProcessConfig{
			Command: server.Command,
			Args:    server.Args,
			Env:     server.Env,
		})
		client := mcp.NewClient(server.Name, proc)
		if err := client.Connect(ctx); err != nil {
			rt.logger.Warn("MCP server %s unavailable: %v", server.Name, err)
			continue
		}
		adapters, err := mcp.DiscoverTools(ctx, server.Name, client)
		if err != nil {
			rt.logger.Warn("Skipping MCP server %s: %v", server.Name, err)
			client.Close()
			continue
		}
		registered := 0
		for _, adapter := range adapters {
			if err := registry.Register(adapter); err != nil {
				rt.logger.Warn("Failed to register %s: %v", adapter.Definition().Name, err)
				continue
			}
			registered++
		}
		rt.logger.Info("MCP server %s: %d tool(s) registered", server.Name, registered)
		rt.clients = append(rt.clients, client)
		rt.procs = append(rt.procs, proc)
	}
}

func (rt *runtime) shutdown() {
	for _, client := range rt.clients {
		if err := client.Close(); err != nil {
			rt.logger.Warn("MCP client close: %v", err)
		}
	}
}

func newChatCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the agent (interactive when no message is given)",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := buildRuntime(ctx, flags)
			if err != nil {
				return err
			}
			defer rt.shutdown()

			if len(args) > 0 {
				return runTurn(ctx, rt, strings.Join(args, " "))
			}
			return runREPL(ctx, rt)
		},
	}
}

func runREPL(ctx context.Context, rt *runtime) error {
	if isTTY() {
		fmt.Println(banner())
	}

	historyFile := ""
	if home, err := os.UserHomeDir(); err == nil {
		historyFile = filepath.Join(home, ".aria_history")
	}
	prompt := "you › "
	if isTTY() {
		prompt = blue("you ") + gray("› ")
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            prompt,
		HistoryFile:       historyFile,
		InterruptPrompt:   "^C",
		EOFPrompt:         "/quit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if err == io.EOF {
			fmt.Println()
			return nil
		}
		if err != nil {
			return err
		}
		input := strings.TrimSpace(line)
		switch {
		case input == "":
			continue
		case input == "/quit" || input == "/exit":
			return nil
		case input == "/history":
			printHistory(rt)
			continue
		}
		if err := runTurn(ctx, rt, input); err != nil {
			fmt.Println(renderError(err.Error()))
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func printHistory(rt *runtime) {
	for _, msg := range rt.session.History() {
		fmt.Printf("%s %s\n", cyan(msg.Role+":"), msg.Content)
	}
}

// runTurn executes one turn and renders its event stream as it happens.
func runTurn(ctx context.Context, rt *runtime, input string) error {
	stream := react.NewTurnStream()

	done := make(chan error, 1)
	go func() {
		_, err := rt.session.RunTurn(ctx, input, stream)
		// A turn that aborts before the engine runs emits no terminal
		// event; close the stream so the render loop below finishes.
		stream.Close()
		done <- err
	}()

	sawText := false
	for event := range stream.Events() {
		switch e := event.(type) {
		case *react.TextChunkEvent:
			sawText = true
			fmt.Print(e.Delta)
		case *react.ToolStartedEvent:
			fmt.Printf("%s %s\n", yellow("⚙ "+e.ToolName), gray(compactArgs(e.Arguments)))
		case *react.ToolEndedEvent:
			if e.Error != nil {
				fmt.Printf("%s %s\n", red("✗ "+e.ToolName), gray(e.Error.Error()))
			} else {
				fmt.Printf("%s %s\n", green("✓ "+e.ToolName), gray(firstLine(e.Result)))
			}
		case *react.TurnCompletedEvent:
			if !sawText {
				fmt.Print(e.FinalAnswer)
			}
			fmt.Println()
			fmt.Println(gray(fmt.Sprintf("%d iteration(s), %d tokens, %s",
				e.Iterations, e.Usage.TotalTokens, e.Duration.Round(time.Millisecond))))
		case *react.TurnFailedEvent:
			fmt.Println()
		}
	}

	return <-done
}

func compactArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	parts := make([]string, 0, len(args))
	for k, v := range args {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx] + " …"
	}
	if len(s) > 120 {
		s = s[:120] + "…"
	}
	return s
}

func newSessionsCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List persisted sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			store, err := session.NewFileStore(cfg.Session.Dir)
			if err != nil {
				return err
			}
			ids, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Println(gray("no sessions"))
				return nil
			}
			for _, id := range ids {
				record, err := store.Load(cmd.Context(), id)
				if err != nil {
					fmt.Printf("%s %s\n", id, red("(unreadable)"))
					continue
				}
				fmt.Printf("%s  %s  %s\n", bold(id),
					record.UpdatedAt.Format("2006-01-02 15:04"),
					gray(fmt.Sprintf("%d messages", len(record.Messages))))
			}
			return nil
		},
	}
}
