// Command toolrouter is an interactive REPL for the Smart Router,
// grounded on picobot's cmd/picobot Cobra root-command shape: one
// command per subsystem, a single persistent router built once in
// PersistentPreRunE and torn down in PersistentPostRunE.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	toolrouter "github.com/lizzyg/toolrouter"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var client toolrouter.Client

	root := &cobra.Command{
		Use:   "toolrouter",
		Short: "toolrouter — a self-improving LLM tool router",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := toolrouter.NewFromFile()
			if err != nil {
				return fmt.Errorf("load router: %w", err)
			}
			ctx, cancel := context.WithCancel(context.Background())
			cmd.SetContext(ctx)
			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-stop
				cancel()
			}()
			if err := c.Initialize(cmd.Context()); err != nil {
				return fmt.Errorf("initialize router: %w", err)
			}
			client = c
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if client == nil {
				return nil
			}
			return client.Shutdown()
		},
	}

	root.AddCommand(chatCmd(&client))
	root.AddCommand(cacheCmd(&client))
	root.AddCommand(healthCmd(&client))
	return root
}

// chatCmd runs an interactive line-at-a-time conversation against a
// single Session, printing the router's reply after each turn.
func chatCmd(client *toolrouter.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			session := (*client).NewSession()
			scanner := bufio.NewScanner(cmd.InOrStdin())
			fmt.Fprintln(cmd.OutOrStdout(), "toolrouter chat — Ctrl+D to exit")
			for {
				fmt.Fprint(cmd.OutOrStdout(), "> ")
				if !scanner.Scan() {
					return nil
				}
				line := scanner.Text()
				if line == "" {
					continue
				}
				reply, err := (*client).HandleTurn(cmd.Context(), session, line)
				if err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), reply)
			}
		},
	}
}

// cacheCmd prints the currently cached server handles, MRU first.
func cacheCmd(client *toolrouter.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "cache",
		Short: "List currently cached server handles",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, handle := range (*client).CacheContents() {
				fmt.Fprintln(cmd.OutOrStdout(), handle)
			}
			return nil
		},
	}
}

// healthCmd prints the health tracker's current cooldown state.
func healthCmd(client *toolrouter.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show server handles currently in cooldown",
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot := (*client).HealthSnapshot()
			if len(snapshot) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no handles in cooldown")
				return nil
			}
			now := time.Now()
			printed := 0
			for handle, rec := range snapshot {
				if !rec.CooldownUntil.After(now) {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d consecutive failures, cooldown until %s\n",
					handle, rec.ConsecutiveFailures, rec.CooldownUntil.Format("15:04:05"))
				printed++
			}
			if printed == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no handles in cooldown")
			}
			return nil
		},
	}
}
