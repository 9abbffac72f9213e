package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/docmirror/docmirror/internal/config"
	"github.com/docmirror/docmirror/internal/state"
	"github.com/docmirror/docmirror/internal/ui"
)

var runsLimit int

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 10, "number of runs to show")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show mirror state and last run",
	Run: func(cmd *cobra.Command, args []string) {
		a := newApp(false)
		defer a.close()
		ctx := context.Background()

		mappings, err := a.store.CountMappings(ctx)
		if err != nil {
			fatalf("failed to count mappings: %v", err)
		}
		open, err := a.store.CountConflicts(ctx, state.ConflictOpen)
		if err != nil {
			fatalf("failed to count conflicts: %v", err)
		}
		assets, err := a.store.CountMediaRecords(ctx)
		if err != nil {
			fatalf("failed to count media records: %v", err)
		}

		if info, err := os.Stat(a.cfg.StatePath); err == nil {
			fmt.Printf("State:     %s (%d KB)\n", a.cfg.StatePath, info.Size()/1024)
		} else {
			fmt.Printf("State:     %s\n", a.cfg.StatePath)
		}
		fmt.Printf("Audit:     %s\n", a.cfg.AuditLog)
		fmt.Printf("Media:     %s\n", a.cfg.MediaDir)
		fmt.Printf("Documents: %d mapped\n", mappings)
		fmt.Printf("Assets:    %d cached\n", assets)
		if open > 0 {
			fmt.Printf("Conflicts: %s %d open\n", ui.RenderWarn("⚠"), open)
		} else {
			fmt.Printf("Conflicts: %s none open\n", ui.RenderPass("✓"))
		}

		runs, err := a.store.ListRuns(ctx, 1)
		if err != nil {
			fatalf("failed to list runs: %v", err)
		}
		if len(runs) == 0 {
			fmt.Printf("Last run:  %s\n", ui.RenderDim("never"))
			return
		}
		fmt.Printf("Last run:  %s\n", renderRun(runs[0]))
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent sync runs",
	Run: func(cmd *cobra.Command, args []string) {
		a := newApp(false)
		defer a.close()

		runs, err := a.store.ListRuns(context.Background(), runsLimit)
		if err != nil {
			fatalf("failed to list runs: %v", err)
		}
		if len(runs) == 0 {
			fmt.Printf("%s No runs recorded\n", ui.RenderDim("·"))
			return
		}
		for _, r := range runs {
			fmt.Println(renderRun(r))
		}
	},
}

func renderRun(r *state.Run) string {
	marker := ui.RenderWarn("…")
	switch r.Status {
	case state.RunSuccess:
		marker = ui.RenderPass("✓")
	case state.RunFailed:
		marker = ui.RenderFail("✗")
	}

	line := fmt.Sprintf("%s %s %s %s", marker, r.StartedAt.Local().Format(time.RFC3339), ui.RenderAccent(r.ID), ui.RenderDim(string(r.Mode)))
	if len(r.Summary) > 0 {
		line += "  " + renderSummary(r.Summary)
	}
	if r.Error != "" {
		line += "  " + ui.RenderFail(r.Error)
	}
	return line
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Run: func(cmd *cobra.Command, args []string) {
		path := cfgPath
		if path == "" {
			path = "docmirror.yaml"
		}
		if err := config.WriteScaffold(path); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		fmt.Fprintf(os.Stdout, "   Edit source and dest adapter settings, then run 'dm preview'\n")
	},
}
