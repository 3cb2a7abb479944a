package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/weavetex/internal"
	pkgconfig "github.com/starford/weavetex/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	load := pkgconfig.LoadOptional[internal.Config]
	if cmd.Name == "serve" {
		load = pkgconfig.Load[internal.Config]
	}
	if err := load(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if v := cmd.String("program"); v != "" {
		cfg.Compile.DefaultProgram = v
	}
	if v := cmd.String("r-home"); v != "" {
		cfg.Compile.RHome = v
	}
	if cmd.Bool("no-history") {
		cfg.SQLite.Path = ""
	}
	return cfg, cfg.Validate()
}

func target(cmd *cli.Command) (string, error) {
	if cmd.Args().Len() != 1 {
		return "", fmt.Errorf("%s: expected exactly one document", cmd.Name)
	}
	return cmd.Args().First(), nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func compile(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	doc, err := target(cmd)
	if err != nil {
		return err
	}
	return internal.Compile(ctx, doc, cmd.String("encoding"), internal.WithConfig(cfg))
}

func watch(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	doc, err := target(cmd)
	if err != nil {
		return err
	}
	return internal.Watch(ctx, doc, cmd.String("encoding"), internal.WithConfig(cfg))
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, internal.WithConfig(cfg))
}

func tangle(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	doc, err := target(cmd)
	if err != nil {
		return err
	}
	return internal.Tangle(ctx, doc, cmd.String("engine"), cmd.String("encoding"), cmd.Bool("diff"),
		internal.WithConfig(cfg))
}

func encodingFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "encoding",
		Usage: "Source encoding passed to the weave engine",
	}
}

func main() {
	cmd := &cli.Command{
		Name:  "weavetex",
		Usage: "Compile LaTeX and Sweave/knitr documents with source-mapped errors and SyncTeX search",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:  "program",
				Usage: "Default TeX program (pdflatex or xelatex)",
			},
			&cli.StringFlag{
				Name:    "r-home",
				Usage:   "R installation root",
				Sources: cli.EnvVars("R_HOME"),
			},
			&cli.BoolFlag{
				Name:  "no-history",
				Usage: "Do not record jobs in the history database",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and event stream",
				Action: serve,
			},
			{
				Name:      "compile",
				Usage:     "Compile one document and print its errors",
				ArgsUsage: "<file>",
				Flags:     []cli.Flag{encodingFlag()},
				Action:    compile,
			},
			{
				Name:      "watch",
				Usage:     "Recompile a document whenever its sources change",
				ArgsUsage: "<file>",
				Flags:     []cli.Flag{encodingFlag()},
				Action:    watch,
			},
			{
				Name:   "mcp",
				Usage:  "Serve compile tools over MCP on stdio",
				Action: mcp,
			},
			{
				Name:      "tangle",
				Usage:     "Extract the R code of a literate document",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					encodingFlag(),
					&cli.StringFlag{
						Name:  "engine",
						Usage: "Sweave or knitr; defaults to the document's magic comment",
					},
					&cli.BoolFlag{
						Name:  "diff",
						Usage: "Print a unified diff against the previous script",
					},
				},
				Action: tangle,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		if errors.Is(err, internal.ErrCompileFailed) {
			os.Exit(1)
		}
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
