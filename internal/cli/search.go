package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/chat-memory/internal/chunker"
	"github.com/rcliao/chat-memory/internal/model"
	"github.com/rcliao/chat-memory/internal/vectorindex"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [user-id] [query]",
		Short: "Search a user's indexed conversation by similarity",
		Long:  "Runs the same retrieval a chat turn uses and prints the ranked chunks.",
		Args:  cobra.MinimumNArgs(2),
		Run:   runSearch,
	}

	cmd.Flags().IntP("limit", "l", 10, "Max results")
	cmd.Flags().Bool("reindex", false, "Index the user's stored history before searching")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	reindex, _ := cmd.Flags().GetBool("reindex")
	userID := args[0]
	query := strings.Join(args[1:], " ")

	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
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

	if reindex {
		s, err := openHistory(cmd.Context(), cfg)
		if err != nil {
			exitErr("open history", err)
		}
		defer s.Close()
		msgs, err := s.Load(cmd.Context(), userID)
		if err != nil {
			exitErr("load", err)
		}
		c, err := chunker.New(cfg.ChunkOptions())
		if err != nil {
			exitErr("chunker", err)
		}
		var chunks []model.Chunk
		for _, m := range msgs {
			chunks = append(chunks, c.ForMessage(m)...)
		}
		if err := ix.Insert(cmd.Context(), chunks); err != nil {
			exitErr("reindex", err)
		}
	}

	results, err := ix.Search(cmd.Context(), vectorindex.SearchParams{
		Query:  query,
		K:      limit,
		UserID: userID,
	})
	if err != nil {
		exitErr("search", err)
	}

	if len(results) == 0 {
		fmt.Println("[]")
		return
	}
	if formatFlag == "text" {
		for _, r := range results {
			fmt.Printf("%.3f  %s: %s\n", r.Similarity, r.Role, r.Text)
		}
		return
	}
	b, _ := json.MarshalIndent(results, "", "  ")
	fmt.Println(string(b))
}
