// Package cli implements the chat-memory commands.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/chat-memory/internal/config"
	"github.com/rcliao/chat-memory/internal/embedding"
	"github.com/rcliao/chat-memory/internal/store"
	"github.com/rcliao/chat-memory/internal/telemetry"
	"github.com/rcliao/chat-memory/internal/vectorindex"
)

var (
	configPath string
	dataDir    string
	formatFlag string
)

// RootCmd is the top-level command. Without a subcommand it runs the
// chat service.
var RootCmd = &cobra.Command{
	Use:          "chat-memory",
	Short:        "Chat agent with long-term conversational memory",
	Long:         "Serves chat sessions whose prompts combine recent turns with semantically retrieved history.",
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default: $CHAT_CONFIG)")
	RootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory (default: $CHAT_DATA_DIR or ~/.chat-memory)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
	RootCmd.Flags().String("addr", "", "Listen address (default: $CHAT_BIND_ADDR or :8080)")
}

func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CHAT_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

func newLogger(cfg config.Config) (*slog.Logger, error) {
	level, err := telemetry.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return telemetry.NewLogger(os.Stderr, level), nil
}

func openHistory(ctx context.Context, cfg config.Config) (store.History, error) {
	return store.Open(ctx, cfg.DatabaseURL, cfg.HistoryPath())
}

// openIndex opens the on-disk vector index. The returned closer releases
// the index and the embedding cache.
func openIndex(cfg config.Config, logger *slog.Logger) (*vectorindex.Index, func(), error) {
	emb, err := embedding.New(cfg.Embedding())
	if err != nil {
		return nil, nil, err
	}
	ix, err := vectorindex.Open(cfg.IndexDir(), emb, vectorindex.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		_ = ix.Close()
		if c, ok := emb.(*embedding.Cached); ok {
			c.Close()
		}
	}
	return ix, closer, nil
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
