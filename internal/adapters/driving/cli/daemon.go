package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	configfile "github.com/custodia-labs/folderd/internal/adapters/driven/config/file"
	"github.com/custodia-labs/folderd/internal/adapters/driven/embedding/ollama"
	"github.com/custodia-labs/folderd/internal/adapters/driven/parser/plaintext"
	"github.com/custodia-labs/folderd/internal/adapters/driven/semantic/heuristic"
	"github.com/custodia-labs/folderd/internal/adapters/driven/storage/sqlite"
	watchfs "github.com/custodia-labs/folderd/internal/adapters/driven/watch/fsnotify"
	"github.com/custodia-labs/folderd/internal/adapters/driving/mcp"
	"github.com/custodia-labs/folderd/internal/adapters/driving/ws"
	"github.com/custodia-labs/folderd/internal/core/domain"
	"github.com/custodia-labs/folderd/internal/core/services"
	"github.com/custodia-labs/folderd/internal/logger"
	"github.com/custodia-labs/folderd/internal/workers"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the folderd daemon",
	Long: `Run the daemon: restore configured folders, index them, watch for
changes and serve the protocol and MCP query endpoints until
interrupted.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	configStore, err := configfile.NewConfigStore(flagConfig)
	if err != nil {
		return fmt.Errorf("opening config: %w", err)
	}
	settings, err := configStore.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if settings.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving home directory: %w", err)
		}
		settings.DataDir = filepath.Join(home, ".folderd", "data")
	}

	providers := ollama.NewFactory(settings.OllamaBaseURL)
	pool := workers.New(providers,
		workers.WithModelCacheSize(settings.ModelCacheSize),
		workers.WithTimeout(settings.WorkerTimeout),
	)
	defer pool.Close()

	fmdm := services.NewFMDMService(domain.DaemonInfo{
		Version:   version,
		PID:       os.Getpid(),
		StartedAt: time.Now().UTC(),
	}, modelInfos(providers.Models()))

	stores := sqlite.NewFactory(settings.DataDir)
	lifecycle := services.NewLifecycleManager(
		settings,
		stores,
		pool,
		plaintext.New(),
		heuristic.New(),
		watchfs.NewFactory(),
		fmdm,
	)
	defer lifecycle.Close()

	daemon := services.NewDaemonService(settings, configStore, stores, pool, lifecycle, fmdm)
	search := services.NewSearchService(lifecycle, pool)

	if err := daemon.Start(ctx); err != nil {
		// Individual folder failures are visible in the snapshot; the
		// daemon still serves the healthy ones.
		logger.Warn("restoring folders: %v", err)
	}

	mcpServer, err := mcp.NewServer(&mcp.Ports{Search: search, FMDM: fmdm})
	if err != nil {
		return fmt.Errorf("creating mcp server: %w", err)
	}
	protocol := ws.NewServer(fmdm, daemon, settings.Heartbeat)

	logger.Info("folderd %s starting (pid %d)", version, os.Getpid())

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return protocol.ListenAndServe(groupCtx, settings.ListenAddr)
	})
	group.Go(func() error {
		logger.Info("mcp listening on %s", settings.MCPAddr)
		return mcpServer.RunHTTP(groupCtx, settings.MCPAddr)
	})

	err = group.Wait()
	logger.Info("folderd stopped")
	return err
}

func modelInfos(models map[string]int) []domain.ModelInfo {
	infos := make([]domain.ModelInfo, 0, len(models))
	for id, dim := range models {
		infos = append(infos, domain.ModelInfo{ID: id, Dimension: dim})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
