package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/autoreply/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage engine configuration",
	}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configShowCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			}
			if err := config.Save(path, config.Default()); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Printf("wrote default config to %s\n", path)
			return nil
		},
	}
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			fmt.Printf("config file: %s\n\n", path)
			fmt.Printf("dispatch:  interval %d-%dms, timeout %ds, rate limit %d/min\n",
				cfg.Dispatch.MinIntervalMs, cfg.Dispatch.MaxIntervalMs,
				cfg.Dispatch.TimeoutSec, cfg.Dispatch.RateLimitRPM)
			fmt.Printf("energy:    high %.2f, reply %.2f, cache %ds\n",
				cfg.Energy.HighThreshold, cfg.Energy.ReplyThreshold, cfg.Energy.CacheTTLSec)
			fmt.Printf("interrupt: enabled=%t, max %d, delay %dms, while_busy=%t\n",
				cfg.Interrupt.Enabled, cfg.Interrupt.Max,
				cfg.Interrupt.PreemptDelayMs, cfg.Interrupt.AllowWhileBusy)
			fmt.Printf("health:    period %ds, stale %ds, sweep %q\n",
				cfg.Health.PeriodSec, cfg.Health.StaleSec, cfg.Health.SweepCron)
			fmt.Printf("database:  mode=%s\n", cfg.Database.Mode)
			return nil
		},
	}
}
