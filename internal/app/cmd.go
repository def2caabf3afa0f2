package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hitoshi/echolearn/internal/config"
	"github.com/hitoshi/echolearn/internal/worker/cleanup"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションの削除ワーカーを起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。サブコマンドを省略した場合はserveとして動作する。
func Run(ctx context.Context, w io.Writer, version string, args []string) error {
	root := NewRootCommand(w, version)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// NewRootCommand はCLIのルートコマンドを生成する。
// ログはwに出力する。
func NewRootCommand(w io.Writer, version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "echolearn",
		Short: "Account-scoped gateway for voice-agent conversations",
		Long: `echolearn lets users sign in and see only the voice-agent conversations
they have claimed, fetched from the upstream conversation service.

It can run as:
  - serve: the HTTP API (default)
  - worker: the expired-session cleanup job
  - migrate: apply database migrations
  - healthcheck: check a running server`,
		Version:      version,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(cmd.Context(), w, CommandServe, runServe)
		},
	}

	root.AddCommand(newServeCmd(w))
	root.AddCommand(newWorkerCmd(w))
	root.AddCommand(newMigrateCmd(w))
	root.AddCommand(newHealthcheckCmd())
	return root
}

func newServeCmd(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandServe),
		Short: "Start the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(cmd.Context(), w, CommandServe, runServe)
		},
	}
}

func newWorkerCmd(w io.Writer) *cobra.Command {
	interval := cleanup.DefaultInterval

	cmd := &cobra.Command{
		Use:   string(CommandWorker),
		Short: "Periodically delete expired sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(cmd.Context(), w, CommandWorker, func(ctx context.Context, cfg *config.Config) error {
				return runWorker(ctx, cfg, interval)
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", interval, "cleanup interval")
	return cmd
}

func newMigrateCmd(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandMigrate),
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(cmd.Context(), w, CommandMigrate, func(_ context.Context, cfg *config.Config) error {
				return runMigrate(cfg)
			})
		},
	}
}

// healthcheck は軽量サブコマンドのため、設定の読み込みをスキップする。
func newHealthcheckCmd() *cobra.Command {
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	cmd := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Check /health of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(cmd.Context(), fmt.Sprintf("http://localhost:%s/health", port))
		},
	}
	cmd.Flags().StringVar(&port, "port", port, "server port")
	return cmd
}

// withConfig は設定とログを初期化してからfnを実行する。
func withConfig(ctx context.Context, w io.Writer, command Command, fn func(context.Context, *config.Config) error) error {
	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(command)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)
	return fn(ctx, cfg)
}
