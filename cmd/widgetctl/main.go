package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"vapidemo/widget/internal/config"
	"vapidemo/widget/internal/health"
	"vapidemo/widget/internal/logging"
	"vapidemo/widget/internal/probe"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "widgetctl",
		Short: "Drive and inspect a running call widget server",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			lvl, _ := cmd.Flags().GetString("log-level")
			logging.Setup(lvl, "")
		},
	}
	rootCmd.PersistentFlags().String("log-level", "warn", "log level")

	scenarioCmd := &cobra.Command{
		Use:   "scenario",
		Short: "Configure, call, mute and hang up, printing every view",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			cred, _ := cmd.Flags().GetString("credential")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runScenario(ctx, os.Stdout, addr, cred)
		},
	}
	scenarioCmd.Flags().String("addr", "http://localhost:8080", "server base URL")
	scenarioCmd.Flags().String("credential", "abc123", "public key to configure")
	scenarioCmd.Flags().Duration("timeout", 30*time.Second, "overall timeout")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Probe the SDK bundle and provider endpoint from the environment config",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			st := health.CheckAll(ctx, config.Load())
			fmt.Print(st)
			if !st.OK {
				return fmt.Errorf("health check failed")
			}
			return nil
		},
	}

	readyCmd := &cobra.Command{
		Use:   "ready",
		Short: "Ask the gRPC health service whether the widget is serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("grpc")
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			st, err := probe.Check(ctx, addr)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", probe.Service, st)
			return nil
		},
	}
	readyCmd.Flags().String("grpc", "localhost:9090", "gRPC health address")

	rootCmd.AddCommand(scenarioCmd, checkCmd, readyCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
