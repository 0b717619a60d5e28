package main

import (
	"bufio"
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/triage/internal/config"
	"github.com/MikeSquared-Agency/triage/internal/symptoms"
)

var chatProvider string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Run one consultation interactively on the terminal",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatProvider, "provider", "", "Generator to use (groq, anthropic); defaults to TRIAGE_PROVIDER")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if chatProvider != "" {
		cfg.Provider = strings.ToLower(chatProvider)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	c, err := rt.svc.Create(ctx, "")
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Consultation %s. Describe how you feel (\"quit\" to leave).\n", c.ID)

	in := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !in.Scan() {
			break
		}
		text := strings.TrimSpace(in.Text())
		if text == "" {
			continue
		}
		if text == "quit" || text == "exit" {
			return nil
		}

		reply, err := rt.svc.HandleTurn(ctx, c.ID, text)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		if !reply.Complete {
			fmt.Fprintln(out, reply.Reply)
			continue
		}

		rec, err := symptoms.FromMap(reply.Symptoms)
		if err == nil {
			fmt.Fprintf(out, "\nCollected symptoms:\n%s\n", rec)
		}
		for _, st := range reply.Stages {
			fmt.Fprintf(out, "\n[%s]\n%s\n", st.Stage, st.Content)
		}
		return nil
	}
	return in.Err()
}
