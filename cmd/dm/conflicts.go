package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/docmirror/docmirror/internal/state"
	"github.com/docmirror/docmirror/internal/ui"
)

var (
	conflictsStatus string
	resolveIgnore   bool
	resolveNotes    string
)

func init() {
	conflictsListCmd.Flags().StringVar(&conflictsStatus, "status", "open", "filter by status (open|resolved|ignored|all)")
	conflictsResolveCmd.Flags().BoolVar(&resolveIgnore, "ignore", false, "mark ignored instead of resolved")
	conflictsResolveCmd.Flags().StringVar(&resolveNotes, "notes", "", "operator notes recorded with the resolution")

	conflictsCmd.AddCommand(conflictsListCmd)
	conflictsCmd.AddCommand(conflictsResolveCmd)
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List and resolve sync conflicts",
	Long: `Manage documents that changed on both sides since their last sync.

A conflict parks the document: apply leaves the destination untouched
until an operator resolves or ignores the conflict. The next apply then
syncs the document again.`,
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded conflicts",
	Run: func(cmd *cobra.Command, args []string) {
		var status state.ConflictStatus
		switch conflictsStatus {
		case "open":
			status = state.ConflictOpen
		case "resolved":
			status = state.ConflictResolved
		case "ignored":
			status = state.ConflictIgnored
		case "all", "":
			status = ""
		default:
			fatalf("unknown status %q", conflictsStatus)
		}

		a := newApp(false)
		defer a.close()

		conflicts, err := a.eng.ListConflicts(context.Background(), status)
		if err != nil {
			fatalf("failed to list conflicts: %v", err)
		}
		if len(conflicts) == 0 {
			fmt.Printf("%s No conflicts\n", ui.RenderPass("✓"))
			return
		}

		for _, c := range conflicts {
			marker := ui.RenderWarn("⚠")
			if c.Status != state.ConflictOpen {
				marker = ui.RenderDim("·")
			}
			fmt.Printf("%s %s %s\n", marker, ui.RenderAccent(c.ID), ui.RenderDim(string(c.Status)))
			fmt.Printf("   Document:    %s\n", c.SourceID)
			fmt.Printf("   Destination: %s\n", c.DestObjectID)
			fmt.Printf("   Source at:   %s\n", c.SourceChangedAt.Local().Format(time.RFC3339))
			fmt.Printf("   Dest at:     %s\n", c.DestChangedAt.Local().Format(time.RFC3339))
			if c.Notes != "" {
				fmt.Printf("   Notes:       %s\n", c.Notes)
			}
		}
		fmt.Printf("\n%d conflict(s)\n", len(conflicts))
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id>",
	Short: "Mark a conflict resolved or ignored",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		status := state.ConflictResolved
		if resolveIgnore {
			status = state.ConflictIgnored
		}

		a := newApp(false)
		defer a.close()

		changed, err := a.eng.ResolveConflict(context.Background(), args[0], status, resolveNotes)
		if err != nil {
			fatalf("failed to resolve conflict: %v", err)
		}
		if !changed {
			fmt.Printf("%s No conflict with id %s\n", ui.RenderWarn("⚠"), args[0])
			return
		}
		fmt.Printf("%s Conflict %s marked %s\n", ui.RenderPass("✓"), ui.RenderAccent(args[0]), string(status))
	},
}
