package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"aria/internal/config"
	"aria/internal/mcp"
)

func newMCPCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Inspect configured MCP tool servers",
	}
	cmd.AddCommand(newMCPListCommand(flags))
	cmd.AddCommand(newMCPCallCommand(flags))
	cmd.AddCommand(newMCPAddCommand(flags))
	cmd.AddCommand(newMCPRemoveCommand(flags))
	return cmd
}

func configFileForEdit(flags *rootFlags) (string, error) {
	if flags.configPath != "" {
		return flags.configPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".aria.yaml"), nil
}

// editServers rewrites the mcp_servers list in the config file. A missing
// file is treated as an empty config so "aria mcp add" works on first run.
func editServers(flags *rootFlags, edit func([]config.MCPServerConfig) ([]config.MCPServerConfig, error)) error {
	path, err := configFileForEdit(flags)
	if err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var servers []config.MCPServerConfig
	if err := v.UnmarshalKey("mcp_servers", &servers); err != nil {
		return fmt.Errorf("parse mcp_servers: %w", err)
	}

	servers, err = edit(servers)
	if err != nil {
		return err
	}

	v.Set("mcp_servers", servers)
	return v.WriteConfigAs(path)
}

func newMCPAddCommand(flags *rootFlags) *cobra.Command {
	var env []string

	cmd := &cobra.Command{
		Use:   "add <name> <command> [args...]",
		Short: "Add a tool server to the config",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			server := config.MCPServerConfig{
				Name:    args[0],
				Command: args[1],
				Args:    args[2:],
			}
			for _, pair := range env {
				key, value, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("env entries must be KEY=VALUE, got %q", pair)
				}
				if server.Env == nil {
					server.Env = map[string]string{}
				}
				server.Env[key] = value
			}

			return editServers(flags, func(servers []config.MCPServerConfig) ([]config.MCPServerConfig, error) {
				for _, existing := range servers {
					if existing.Name == server.Name {
						return nil, fmt.Errorf("mcp server %q already configured", server.Name)
					}
				}
				fmt.Printf("added %s\n", green(server.Name))
				return append(servers, server), nil
			})
		},
	}

	cmd.Flags().StringArrayVar(&env, "env", nil, "environment for the server process (KEY=VALUE, repeatable)")
	return cmd
}

func newMCPRemoveCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a tool server from the config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editServers(flags, func(servers []config.MCPServerConfig) ([]config.MCPServerConfig, error) {
				kept := servers[:0]
				for _, server := range servers {
					if server.Name == args[0] {
						continue
					}
					kept = append(kept, server)
				}
				if len(kept) == len(servers) {
					return nil, fmt.Errorf("mcp server %q is not configured", args[0])
				}
				fmt.Printf("removed %s\n", yellow(args[0]))
				return kept, nil
			})
		},
	}
}

// withServer launches the named server from config, connects a client and
// hands it to fn, tearing everything down afterwards.
func withServer(ctx context.Context, flags *rootFlags, name string, fn func(context.Context, *mcp.Client) error) error {
	if flags.debug {
		os.Setenv("ARIA_DEBUG", "1")
	}
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}

	var server *config.MCPServerConfig
	for i := range cfg.MCPServers {
		if cfg.MCPServers[i].Name == name {
			server = &cfg.MCPServers[i]
			break
		}
	}
	if server == nil {
		return fmt.Errorf("mcp server %q is not configured", name)
	}

	proc := mcp.NewServerProcess(mcp.ProcessConfig{
		Command: server.Command,
		Args:    server.Args,
		Env:     server.Env,
	})
	client := mcp.NewClient(server.Name, proc)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	return fn(ctx, client)
}

func newMCPListCommand(flags *rootFlags) *cobra.Command {
	var showSchemas bool

	cmd := &cobra.Command{
		Use:   "list <server>",
		Short: "List the tools a server exposes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withServer(ctx, flags, args[0], func(ctx context.Context, client *mcp.Client) error {
				tools, err := client.ListTools(ctx)
				if err != nil {
					return err
				}
				if info := client.GetServerInfo(); info != nil {
					fmt.Printf("%s %s\n", bold(info.Name), gray(info.Version))
				}
				for _, tool := range tools {
					fmt.Printf("  %s  %s\n", cyan(tool.Name), tool.Description)
					if showSchemas {
						schema, err := json.MarshalIndent(tool.InputSchema, "    ", "  ")
						if err == nil {
							fmt.Printf("    %s\n", gray(string(schema)))
						}
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&showSchemas, "schemas", false, "print tool input schemas")
	return cmd
}

func newMCPCallCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "call <server> <tool> [json-arguments]",
		Short: "Invoke one tool on a server",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			arguments := map[string]any{}
			if len(args) == 3 {
				if err := json.Unmarshal([]byte(args[2]), &arguments); err != nil {
					return fmt.Errorf("arguments must be a JSON object: %w", err)
				}
			}

			return withServer(ctx, flags, args[0], func(ctx context.Context, client *mcp.Client) error {
				result, err := client.CallTool(ctx, args[1], arguments)
				if err != nil {
					return err
				}
				for _, block := range result.Content {
					if block.Type == "text" {
						fmt.Println(block.Text)
					}
				}
				if result.IsError {
					return fmt.Errorf("tool reported an error")
				}
				return nil
			})
		},
	}
}
