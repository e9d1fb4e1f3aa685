package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ralphctl/coordinator/internal/config"
	"github.com/ralphctl/coordinator/internal/coordinator"
	"github.com/ralphctl/coordinator/internal/driver"
	"github.com/ralphctl/coordinator/internal/events"
	"github.com/ralphctl/coordinator/internal/janitor"
	"github.com/ralphctl/coordinator/internal/persistence"
	"github.com/ralphctl/coordinator/internal/server"
	"github.com/ralphctl/coordinator/pkg/logging"
)

var (
	serveAddr           string
	serveDBPath         string
	serveEnvFile        string
	serveProvidersFile  string
	serveDockerImage    string
	serveAgentInstall   []string
	serveAgentStart     []string
	serveAgentPort      int
	serveGracePeriod    time.Duration
	serveSweepSchedule  string
	serveDisablePersist bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Run Coordinator process: Control API, janitor, and persistence",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8420", "Control API listen address")
	serveCmd.Flags().StringVar(&serveDBPath, "db", "ralphctl.db", "SQLite database path (empty for in-memory)")
	serveCmd.Flags().BoolVar(&serveDisablePersist, "no-persistence", false, "Disable the Persistence Store entirely")
	serveCmd.Flags().StringVar(&serveEnvFile, "env-file", ".env", "Optional .env file with provider credentials")
	serveCmd.Flags().StringVar(&serveProvidersFile, "providers-file", "providers.yaml", "Hot-reloadable per-provider default image table")
	serveCmd.Flags().StringVar(&serveDockerImage, "docker-image", "ubuntu:24.04", "Fallback sandbox image for the docker provider")
	serveCmd.Flags().StringSliceVar(&serveAgentInstall, "agent-install-cmd", []string{"npm", "install", "-g", "@opencode/cli"}, "Command to install the agent runtime in a fresh sandbox")
	serveCmd.Flags().StringSliceVar(&serveAgentStart, "agent-start-cmd", []string{"opencode", "serve"}, "Command to start the agent server in a sandbox")
	serveCmd.Flags().IntVar(&serveAgentPort, "agent-port", 4096, "Port the agent server listens on inside the sandbox")
	serveCmd.Flags().DurationVar(&serveGracePeriod, "janitor-grace-period", 30*time.Minute, "How long a provider may sit non-terminal before the janitor force-stops its run")
	serveCmd.Flags().StringVar(&serveSweepSchedule, "janitor-schedule", "*/5 * * * *", "Cron schedule for the janitor's sweep")
}

func runServe(cmd *cobra.Command, args []string) error {
	creds, err := config.Load(serveEnvFile)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	images, err := config.NewProviderTable(serveProvidersFile)
	if err != nil {
		return fmt.Errorf("load provider image table: %w", err)
	}
	if err := images.Watch(); err != nil {
		return fmt.Errorf("watch provider image table: %w", err)
	}
	defer images.Stop()

	gw := driver.NewGateway(driver.GatewayConfig{})
	if dockerDriver, err := driver.NewDockerDriver(serveDockerImage); err != nil {
		logging.Warn("Serve", "docker provider unavailable, continuing without it: %v", err)
	} else {
		gw.Register("docker", dockerDriver)
	}
	gw.Register("mock", driver.NewMockDriver())

	var persist coordinator.Persistence
	if !serveDisablePersist {
		dbPath := serveDBPath
		store, err := persistence.Open(dbPath)
		if err != nil {
			return fmt.Errorf("open persistence store %s: %w", dbPath, err)
		}
		defer store.Close()
		persist = store
	}

	coord := coordinator.New(coordinator.Config{
		Gateway:                gw,
		Bus:                    events.New(nil),
		Persistence:            persist,
		ProviderImages:         images,
		Credentials:            creds,
		AgentRuntimeInstallCmd: serveAgentInstall,
		AgentServerStartCmd:    serveAgentStart,
		AgentServerPort:        serveAgentPort,
	})

	j := janitor.New(janitor.Config{Coordinator: coord, GracePeriod: serveGracePeriod, Schedule: serveSweepSchedule})
	if err := j.Start(); err != nil {
		return fmt.Errorf("start janitor: %w", err)
	}
	defer j.Stop()

	httpServer := server.NewHTTPServer(serveAddr, coord, creds)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- httpServer.Serve() }()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		logging.Info("Serve", "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
