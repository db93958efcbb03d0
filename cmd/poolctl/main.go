// Command poolctl is the operator CLI for a running poold: it reports pool
// status and adjusts live tunables over the admin HTTP surface. Its "get"
// subcommand is a local smoke test — it builds its own short-lived Pool
// from the same configuration rather than reaching into a remote daemon's
// in-flight sessions, which are not meant to cross a process boundary, and
// releases the session itself; "release" is a no-op that only says so.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pipeops/apppool/pkg/config"
	"github.com/pipeops/apppool/pkg/domain"
	"github.com/pipeops/apppool/pkg/pool"
	"github.com/pipeops/apppool/pkg/restartprobe"
	"github.com/pipeops/apppool/pkg/spawner"
)

var rootCmd = &cobra.Command{
	Use:   "poolctl",
	Short: "Operator CLI for the application pool manager",
}

func init() {
	rootCmd.PersistentFlags().String("admin-addr", "http://localhost:8081", "address of a running poold's admin surface")
	rootCmd.PersistentFlags().String("config", "", "path to config file, used by the get smoke test")
	_ = viper.BindPFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(statusCmd, setMaxCmd, setMaxPerAppCmd, shutdownCmd, getCmd, releaseCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func adminAddr() string { return viper.GetString("admin-addr") }

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pool-wide counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Get(adminAddr() + "/stats")
		if err != nil {
			return fmt.Errorf("fetch status: %w", err)
		}
		defer resp.Body.Close()
		var stats pool.Stats
		if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
			return fmt.Errorf("decode status: %w", err)
		}
		fmt.Printf("count=%d active=%d idle=%d domains=%d max=%d max_per_app=%d waiting_on_global_queue=%d\n",
			stats.Count, stats.Active, stats.Idle, stats.Domains, stats.Max, stats.MaxPerApp, stats.WaitingOnGlobalQueue)
		return nil
	},
}

func postControl(path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := http.Post(adminAddr()+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: unexpected status %s", path, resp.Status)
	}
	return nil
}

var setMaxCmd = &cobra.Command{
	Use:   "set-max <n>",
	Short: "Set the pool-wide instance cap",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var n int
		if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil {
			return fmt.Errorf("invalid integer %q", args[0])
		}
		return postControl("/control/max", map[string]int{"value": n})
	},
}

var setMaxPerAppCmd = &cobra.Command{
	Use:   "set-max-per-app <n>",
	Short: "Set the per-domain instance cap (0 = unlimited)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var n int
		if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil {
			return fmt.Errorf("invalid integer %q", args[0])
		}
		return postControl("/control/max-per-app", map[string]int{"value": n})
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Drain and stop the running poold",
	RunE: func(cmd *cobra.Command, args []string) error {
		return postControl("/control/shutdown", map[string]int{})
	},
}

func buildLocalPool() (*pool.Pool, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	sp := spawner.New(spawner.Config{
		Command:        cfg.Spawner.Command,
		Args:           cfg.Spawner.Args,
		StartupTimeout: cfg.Spawner.StartupTimeout,
		ShutdownGrace:  cfg.Spawner.ShutdownGrace,
	}, nil)
	probe := restartprobe.New(nil)
	return pool.New(sp, probe, nil, nil, pool.Config{
		Max:            cfg.Pool.Max,
		MaxPerApp:      cfg.Pool.MaxPerApp,
		UseGlobalQueue: cfg.Pool.UseGlobalQueue,
		MaxIdleTime:    cfg.Pool.MaxIdleTime,
		CleanInterval:  cfg.Pool.CleanInterval,
	})
}

var getCmd = &cobra.Command{
	Use:   "get <app_root>",
	Short: "Smoke-test: acquire a session against a locally built pool and print its container stats",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildLocalPool()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_, c, err := p.Get(ctx, args[0], domain.GetOptions{})
		if err != nil {
			return err
		}
		defer func() { _ = p.Shutdown(context.Background()) }()
		stats := c.Stats()
		fmt.Printf("acquired root=%s sessions=%d processed=%d\n", stats.Root, stats.Sessions, stats.Processed)
		return p.Release(ctx, c)
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "No-op placeholder: release happens automatically at the end of 'get' in this smoke-test CLI",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("release is folded into 'poolctl get' for this smoke-test CLI; nothing to do standalone")
		return nil
	},
}
