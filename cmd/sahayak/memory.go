package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// memoryCmd groups the maintenance operations an external scheduler
// would normally drive. They are safe to run while chat sessions are
// active against the same data directory.
func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and maintain conversation memory",
	}
	cmd.AddCommand(memorySummarizeCmd())
	cmd.AddCommand(memoryPruneCmd())
	cmd.AddCommand(memoryChunksCmd())
	return cmd
}

func memorySummarizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summarize [conversation-id]",
		Short: "Fold older turns of a conversation into its rolling summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := buildStack()
			if err != nil {
				return err
			}
			defer st.Close()

			chunk, err := st.summ.Summarize(context.Background(), args[0])
			if err != nil {
				return err
			}
			if chunk == nil {
				fmt.Println("nothing to summarize")
				return nil
			}
			fmt.Printf("summary updated, %d tokens, covers %d turns\n",
				chunk.TokenCount, len(chunk.SourceMessageSeqs))
			return nil
		},
	}
}

func memoryPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune [owner-id]",
		Short: "Evict low-value memory chunks above the capacity limit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := buildStack()
			if err != nil {
				return err
			}
			defer st.Close()

			evicted, err := st.pruner.Prune(context.Background(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("evicted %d chunks\n", evicted)
			return nil
		},
	}
}

func memoryChunksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chunks [owner-id]",
		Short: "List an owner's memory chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := buildStack()
			if err != nil {
				return err
			}
			defer st.Close()

			chunks, err := st.vectors.ListByOwner(context.Background(), args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tIMPORTANCE\tTOKENS\tLAST ACCESS")
			for _, c := range chunks {
				fmt.Fprintf(w, "%s\t%s\t%.2f\t%d\t%s\n",
					c.ID, c.Kind, c.Importance, c.TokenCount,
					c.LastAccessedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
}
