package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const version = "0.3.0"

var (
	blue   = color.New(color.FgBlue).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func renderError(msg string) string {
	return red("error: " + msg)
}

type rootFlags struct {
	configPath string
	debug      bool
}

// NewRootCommand creates the aria command tree.
func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "aria",
		Short:         "Tool-calling agent with MCP support",
		Long:          "Aria runs a tool-calling agent loop against an OpenAI-compatible model,\nwith built-in tools and external tool servers bridged over MCP.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (default ~/.aria.yaml)")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")

	root.AddCommand(newChatCommand(flags))
	root.AddCommand(newMCPCommand(flags))
	root.AddCommand(newSessionsCommand(flags))

	return root
}

func banner() string {
	return fmt.Sprintf("%s %s  %s", bold("aria"), version, gray("type a message, or /quit to exit"))
}
