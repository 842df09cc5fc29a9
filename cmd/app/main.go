package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/hallvard/depot/internal"
	"github.com/hallvard/depot/internal/api"
	"github.com/hallvard/depot/internal/mcpserver"
	"github.com/hallvard/depot/internal/metadata"
	"github.com/hallvard/depot/internal/search"
	"github.com/hallvard/depot/internal/storage"
	"github.com/hallvard/depot/internal/store"
	pkgconfig "github.com/hallvard/depot/pkg/config"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	content, err := storage.NewFS(cfg.Blobs.Path)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	db, err := store.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()

	rebuilder := metadata.NewRebuilder(db, content, cfg.Rebuild.BufferSize, slog.Default())
	composer := search.NewComposer(search.DefaultContributions())
	svc := api.NewService(db, content, rebuilder, composer, nil)

	return mcpserver.New(svc).ServeStdio()
}

func main() {
	configFlag := &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to config file",
		DefaultText: "config/config.yaml",
		Value:       "config/config.yaml",
		Sources:     cli.EnvVars("APP_CONFIG_FILE"),
	}

	cmd := &cli.Command{
		Name:   "depot",
		Usage:  "Artifact repository data engine with change paging, component search, and metadata rebuilds",
		Action: serve,
		Flags:  []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:   "mcp",
				Usage:  "Serve depot tools over the Model Context Protocol on stdio",
				Action: mcp,
				Flags:  []cli.Flag{configFlag},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
