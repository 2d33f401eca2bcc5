package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "history [user-id]",
		Short: "Print a user's stored conversation",
		Args:  cobra.ExactArgs(1),
		Run:   runHistory,
	}

	cmd.Flags().IntP("limit", "l", 0, "Only the most recent N messages (0 = all)")

	RootCmd.AddCommand(cmd)
}

func runHistory(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	s, err := openHistory(cmd.Context(), cfg)
	if err != nil {
		exitErr("open history", err)
	}
	defer s.Close()

	msgs, err := s.Load(cmd.Context(), args[0])
	if err != nil {
		exitErr("load", err)
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	if formatFlag == "text" {
		for _, m := range msgs {
			fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("2006-01-02 15:04:05"), m.Role, m.Text)
		}
		return
	}
	b, _ := json.MarshalIndent(msgs, "", "  ")
	fmt.Println(string(b))
}
