package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/grovetools/tabsd/cli"
	"github.com/grovetools/tabsd/config"
	"github.com/grovetools/tabsd/internal/connection"
	"github.com/grovetools/tabsd/internal/daemon/collector"
	"github.com/grovetools/tabsd/internal/daemon/engine"
	"github.com/grovetools/tabsd/internal/daemon/pidfile"
	"github.com/grovetools/tabsd/internal/daemon/server"
	"github.com/grovetools/tabsd/internal/daemon/store"
	"github.com/grovetools/tabsd/internal/metrics"
	"github.com/grovetools/tabsd/internal/navigation"
	"github.com/grovetools/tabsd/internal/origin"
	"github.com/grovetools/tabsd/logging"
	"github.com/grovetools/tabsd/pkg/daemon"
	"github.com/grovetools/tabsd/pkg/paths"
	"github.com/grovetools/tabsd/pkg/profiling"
	"github.com/grovetools/tabsd/state"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewDaemonCmd returns the daemon command with subcommands.
func NewDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run and control the tabsd daemon",
		Long:  "The daemon owns every session, the speculation slot and the rate limiter. Clients reach it over a unix socket.",
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())

	return cmd
}

// liveConfig is the configuration the daemon currently runs with. Reloads
// go through it so /api/config reports what was last applied.
type liveConfig struct {
	conn   *connection.Connection
	socket string
	engine string

	mu      sync.Mutex
	path    string
	current *config.Config
	started time.Time
}

func (l *liveConfig) ApplyConfig(cfg *config.Config) error {
	if err := l.conn.ApplyConfig(cfg); err != nil {
		return err
	}
	if err := logging.Configure(cfg); err != nil {
		return err
	}
	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return nil
}

func (l *liveConfig) reloaded(path string) {
	l.mu.Lock()
	l.path = path
	l.mu.Unlock()
	l.conn.Store().ApplyUpdate(store.Update{Type: store.UpdateConfigReload, Source: "config-watcher", Payload: path})
}

func (l *liveConfig) running() *server.RunningConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &server.RunningConfig{
		ConfigPath: l.path,
		Socket:     l.socket,
		Engine:     l.engine,
		Throttle:   l.current.Throttle,
		Policy:     l.current.Policy,
		StartedAt:  l.started,
	}
}

func pidPath(cfg *config.Config) string {
	if cfg != nil && cfg.Daemon.PidFile != "" {
		return cfg.Daemon.PidFile
	}
	return paths.PidFilePath()
}

func newDaemonStartCmd() *cobra.Command {
	profiler := profiling.New()
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon",
		Long:  "Start the tabsd daemon in foreground mode.",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.GetOptions(cmd)
			cfg, cfgPath, err := cli.LoadConfig(opts)
			if err != nil {
				return err
			}
			if err := logging.Configure(cfg); err != nil {
				return err
			}
			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("failed to create tabsd directories: %w", err)
			}

			logger := cli.GetLogger(cmd, "tabsd")
			pid := pidPath(cfg)

			if err := profiler.Start(); err != nil {
				return err
			}
			defer profiler.Stop(logger)
			sockPath := cli.SocketPath(opts, cfg)

			// 1. Acquire Lock
			if err := pidfile.Acquire(pid); err != nil {
				return err
			}
			defer func() {
				if err := pidfile.Release(pid); err != nil {
					logger.Errorf("Failed to release pidfile: %v", err)
				}
			}()

			// 2. Hidden tab backend and origin verification
			factory, err := navigation.NewFactory(cfg.Speculation, logging.NewLogger("navigation"))
			if err != nil {
				return err
			}
			defer factory.Close()

			var preconnector *navigation.Preconnector
			timeout := time.Duration(cfg.Speculation.PreconnectTimeoutMs) * time.Millisecond
			if hf, ok := factory.(*navigation.HTTPFactory); ok {
				preconnector = navigation.NewPreconnector(hf.TLSConfig(), timeout, logging.NewLogger("preconnect"))
			} else {
				preconnector = navigation.NewPreconnector(nil, timeout, logging.NewLogger("preconnect"))
			}

			validator, err := origin.New(cfg.Origins, logging.NewLogger("origin"))
			if err != nil {
				return err
			}

			// 3. Store, engine and connection
			st := store.New()
			if cfgPath != "" {
				st.ApplyUpdate(store.Update{Type: store.UpdateConfigReload, Source: "startup", Payload: cfgPath})
			}
			eng := engine.New(st, logging.NewLogger("engine"))
			recorder := metrics.NewRecorder()
			throttleFile := state.New(paths.ThrottleStatePath())

			conn := connection.New(connection.Options{
				Config:       cfg,
				Sequencer:    eng,
				Factory:      factory,
				Preconnector: preconnector,
				Validator:    validator,
				Store:        st,
				Metrics:      recorder,
				Logger:       logging.NewLogger("connection"),
				ThrottleFile: throttleFile,
			})

			// Register collectors
			eng.Register(collector.NewLivenessCollector(conn.Registry(), conn,
				time.Duration(cfg.Daemon.ReapIntervalSeconds)*time.Second))
			eng.Register(collector.NewThrottlePersistCollector(conn.Throttle(), throttleFile,
				time.Duration(cfg.Throttle.PersistIntervalSeconds)*time.Second, logging.NewLogger("throttle")))

			live := &liveConfig{
				conn:    conn,
				socket:  sockPath,
				engine:  factory.Name(),
				path:    cfgPath,
				current: cfg,
				started: time.Now(),
			}

			// 4. Server
			srv := server.New(conn, logging.NewLogger("server"))
			srv.SetMetrics(recorder)
			srv.SetRunningConfig(live.running)

			configDir := paths.ConfigDir()
			if cfgPath != "" {
				configDir = filepath.Dir(cfgPath)
			}
			watcher, err := daemon.NewConfigWatcher(configDir, 250, live, live.reloaded)
			if err != nil {
				logger.WithError(err).Warn("Config reload disabled")
			}

			// 5. Handle Signals
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				eng.Start(gctx)
				return nil
			})
			if watcher != nil {
				g.Go(func() error {
					watcher.Start(gctx)
					return nil
				})
			}
			g.Go(func() error {
				logger.WithField("pid", os.Getpid()).WithField("socket", sockPath).Info("Starting daemon")
				if err := srv.ListenAndServe(sockPath); err != nil {
					return fmt.Errorf("server error: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("Received stop signal")

				shutdownCtx, cancel := context.WithTimeout(context.Background(),
					time.Duration(cfg.Daemon.ShutdownTimeoutSecs)*time.Second)
				defer cancel()

				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Errorf("Server shutdown error: %v", err)
				}
				conn.Close(shutdownCtx)
				validator.Wait()
				preconnector.Wait()
				return nil
			})

			err = g.Wait()
			os.Remove(sockPath)
			return err
		},
	}
	profiler.AddFlags(cmd)
	return cmd
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := cli.LoadConfig(cli.GetOptions(cmd))
			if err != nil {
				return err
			}

			running, pid, err := pidfile.IsRunning(pidPath(cfg))
			if err != nil {
				return fmt.Errorf("error checking status: %w", err)
			}

			out := logging.NewPrettyLogger(cmd.OutOrStdout(), 0)
			if !running {
				out.Warn("Daemon is not running")
				return nil
			}

			// Send SIGTERM
			process, err := os.FindProcess(pid)
			if err != nil {
				return fmt.Errorf("failed to find process %d: %w", pid, err)
			}

			if err := process.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("failed to send stop signal: %w", err)
			}

			out.Success(fmt.Sprintf("Sent SIGTERM to process %d", pid))
			return nil
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.GetOptions(cmd)
			cfg, _, err := cli.LoadConfig(opts)
			if err != nil {
				return err
			}

			running, pid, err := pidfile.IsRunning(pidPath(cfg))
			if err != nil {
				return fmt.Errorf("error: %w", err)
			}
			if !running {
				fmt.Fprintln(cmd.OutOrStdout(), "Stopped")
				os.Exit(1) // Return non-zero for stopped state (useful for scripts)
			}

			client, err := daemon.Connect(cli.SocketPath(opts, cfg))
			if err != nil {
				return err
			}
			defer client.Close()

			st, err := client.GetState(cmd.Context())
			if err != nil {
				return err
			}
			if opts.JSONOutput {
				return printJSON(cmd, st)
			}

			out := logging.NewPrettyLogger(cmd.OutOrStdout(), 13)
			out.Success(fmt.Sprintf("Running (PID: %d)", pid))
			out.Path("Socket", cli.SocketPath(opts, cfg))
			out.Field("Uptime", time.Since(st.StartedAt).Round(time.Second))
			out.Field("Sessions", len(st.Sessions))
			out.Field("Speculation", st.Speculation.State)
			out.Field("Warmed up", st.Warmup.Finished)
			return nil
		},
	}
}
