package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/chat-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show history and index statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

type statsOutput struct {
	*store.Stats
	IndexedChunks int `json:"indexed_chunks"`
}

func runStats(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	s, err := openHistory(cmd.Context(), cfg)
	if err != nil {
		exitErr("open history", err)
	}
	defer s.Close()

	stats, err := s.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		exitErr("logger", err)
	}
	ix, closeIndex, err := openIndex(cfg, logger)
	if err != nil {
		exitErr("open index", err)
	}
	defer closeIndex()

	b, _ := json.MarshalIndent(statsOutput{Stats: stats, IndexedChunks: ix.Count()}, "", "  ")
	fmt.Println(string(b))
}
