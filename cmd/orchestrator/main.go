package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/whatsapp-automation/orchestrator/internal/app"
	"github.com/whatsapp-automation/orchestrator/internal/config"
	"github.com/whatsapp-automation/orchestrator/internal/logging"
	"github.com/whatsapp-automation/orchestrator/internal/proxy"
	"github.com/whatsapp-automation/orchestrator/internal/store"
)

// cli carries what the persistent pre-run resolves for every subcommand.
type cli struct {
	configPath string
	cfg        *config.Config
	log        *logrus.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "orchestrator",
		Short:         "WhatsApp multi-session orchestrator",
		Long:          "Runs WhatsApp sessions behind a proxy pool, drains bulk campaigns and answers inbound messages through the sales flow or an AI completion.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			c.cfg, c.log = cfg, log
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (yaml, json or toml); environment variables override it")

	root.AddCommand(c.serveCmd(), c.migrateCmd(), c.proxiesCmd())
	return root
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, sessions, campaigns and auto-replies",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			c.log.Info("=== WhatsApp Orchestrator Starting ===")
			c.log.Infof("Listen:         %s", c.cfg.Server.Addr)
			c.log.Infof("Database:       %s", c.cfg.Database.Driver)
			c.log.Infof("Device Country: %s", c.cfg.Device.Country)
			c.log.Infof("Proxy Type:     %s", c.cfg.Proxy.Type)
			c.log.Info("======================================")

			a, err := app.New(ctx, c.cfg, c.log)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Run(ctx)
		},
	}
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(cmd.Context(), c.cfg.Database.Driver, c.cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer st.Close()
			c.log.Infof("Schema up to date (%s)", c.cfg.Database.Driver)
			return nil
		},
	}
}

func (c *cli) proxiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxies",
		Short: "Inspect the proxy pool",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Import PROXY_LIST, health-check every proxy once and print the pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := store.Open(ctx, c.cfg.Database.Driver, c.cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer st.Close()

			pool := proxy.NewPool(st, logging.Component(c.log, "proxy"), proxy.Options{
				CheckDelay:   c.cfg.Proxy.CheckDelay,
				HealthTarget: c.cfg.Proxy.HealthTarget,
			})
			if err := pool.Load(ctx); err != nil {
				return err
			}
			pool.Bootstrap(ctx, c.cfg.Proxy.ProxyURLs())

			healthy := pool.CheckAll(ctx)
			out := cmd.OutOrStdout()
			for _, ep := range pool.List() {
				fmt.Fprintf(out, "%-36s %-8s %s:%d score=%.0f\n", ep.ID, ep.Status, ep.Host, ep.Port, proxy.Score(ep))
			}
			fmt.Fprintf(out, "%d/%d healthy\n", healthy, len(pool.List()))
			return nil
		},
	})
	return cmd
}
