package main

import (
	"context"
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/docmirror/docmirror/internal/engine"
	"github.com/docmirror/docmirror/internal/state"
	"github.com/docmirror/docmirror/internal/ui"
)

var (
	previewSince string

	applyIncremental bool
	applyMedia       bool
	applyNoMedia     bool
)

func init() {
	previewCmd.Flags().StringVar(&previewSince, "since", "", "only documents modified since (RFC3339 or natural language)")

	applyCmd.Flags().BoolVar(&applyIncremental, "incremental", false, "only documents modified since the last successful run")
	applyCmd.Flags().BoolVar(&applyMedia, "media", false, "resolve and list referenced media")
	applyCmd.Flags().BoolVar(&applyNoMedia, "no-media", false, "skip media resolution even if configured on")
}

// parseSince accepts an RFC3339 timestamp or a natural language phrase
// like "yesterday" or "2 days ago".
func parseSince(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to parse time %q: %w", s, err)
	}
	if r == nil {
		return nil, fmt.Errorf("unrecognized time %q", s)
	}
	return &r.Time, nil
}

var previewCmd = &cobra.Command{
	Use:   "preview [document-id...]",
	Short: "Show the pending sync plan without writing anything",
	Run: func(cmd *cobra.Command, args []string) {
		since, err := parseSince(previewSince)
		if err != nil {
			fatalf("%v", err)
		}

		a := newApp(true)
		defer a.close()

		result, err := a.eng.Preview(context.Background(), engine.PreviewOptions{IDs: args, Since: since})
		if err != nil {
			fatalf("preview failed: %v", err)
		}

		if len(result.Items) == 0 {
			fmt.Printf("%s Nothing to sync\n", ui.RenderPass("✓"))
			return
		}
		for _, item := range result.Items {
			line := fmt.Sprintf("%-10s %s %s", ui.RenderAction(string(item.Action)), item.Name, ui.RenderDim(item.SourceID))
			if item.Reason != "" {
				line += " " + ui.RenderDim("("+item.Reason+")")
			}
			fmt.Println(line)
		}
		fmt.Printf("\n%s\n", renderSummary(result.Summary()))
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply [document-id...]",
	Short: "Execute the sync plan",
	Long: `Execute the sync plan against the destination.

Documents are processed one at a time; each item commits its own mapping
before the next starts, so an interrupted run keeps its progress.
Conflicting documents are recorded and left untouched; resolve them with
'dm conflicts resolve'.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := newApp(true)
		defer a.close()

		opts := engine.ApplyOptions{
			IDs:          args,
			IncludeMedia: a.cfg.IncludeMedia,
			Mode:         state.RunFull,
		}
		if applyIncremental {
			opts.Mode = state.RunIncremental
		}
		if applyMedia {
			opts.IncludeMedia = true
		}
		if applyNoMedia {
			opts.IncludeMedia = false
		}

		start := time.Now()
		result, err := a.eng.Apply(context.Background(), opts)
		if err != nil {
			if result != nil {
				fmt.Printf("%s Run %s failed after %d item(s)\n", ui.RenderFail("✗"), result.RunID, len(result.Items))
			}
			fatalf("apply failed: %v", err)
		}

		for _, item := range result.Items {
			line := fmt.Sprintf("%-10s %s %s", ui.RenderAction(string(item.Action)), item.Name, ui.RenderDim(item.SourceID))
			if item.Error != "" {
				line += " " + ui.RenderFail(item.Error)
			} else if item.Reason != "" {
				line += " " + ui.RenderDim("("+item.Reason+")")
			}
			fmt.Println(line)
		}

		fmt.Printf("\n%s Run %s complete in %v\n", ui.RenderPass("✓"), ui.RenderAccent(result.RunID), time.Since(start).Round(time.Millisecond))
		fmt.Printf("   %s\n", renderSummary(result.Summary))
	},
}

var diffCmd = &cobra.Command{
	Use:   "diff <document-id>",
	Short: "Show a document's current content next to its synced fingerprint",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := newApp(true)
		defer a.close()

		diff, err := a.eng.Diff(context.Background(), args[0])
		if err != nil {
			fatalf("diff failed: %v", err)
		}

		fmt.Printf("Document:           %s\n", ui.RenderAccent(diff.SourceID))
		fmt.Printf("Source fingerprint: %s\n", diff.SourceFingerprint)
		if diff.SyncedFingerprint == "" {
			fmt.Printf("Synced fingerprint: %s\n", ui.RenderDim("never synced"))
		} else {
			fmt.Printf("Synced fingerprint: %s\n", diff.SyncedFingerprint)
			fmt.Printf("Last synced:        %s\n", diff.LastSyncedAt)
			if diff.SourceFingerprint == diff.SyncedFingerprint {
				fmt.Printf("%s Source unchanged since last sync\n", ui.RenderPass("✓"))
			} else {
				fmt.Printf("%s Source changed since last sync\n", ui.RenderWarn("⚠"))
			}
		}
		fmt.Printf("\n%s\n", diff.Body)
	},
}

func renderSummary(summary map[string]int) string {
	out := ""
	for _, key := range []string{"create", "update", "conflict", "skip", "failed"} {
		if n, ok := summary[key]; ok && n > 0 {
			if out != "" {
				out += "  "
			}
			out += fmt.Sprintf("%s: %d", ui.RenderAction(key), n)
		}
	}
	if out == "" {
		out = ui.RenderDim("nothing to do")
	}
	return out
}
