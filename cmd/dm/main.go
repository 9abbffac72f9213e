package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/docmirror/docmirror/internal/audit"
	"github.com/docmirror/docmirror/internal/config"
	"github.com/docmirror/docmirror/internal/dest"
	"github.com/docmirror/docmirror/internal/engine"
	"github.com/docmirror/docmirror/internal/media"
	"github.com/docmirror/docmirror/internal/source"
	"github.com/docmirror/docmirror/internal/state"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "dm",
	Short: "One-way document mirror",
	Long: `dm mirrors documents from a source content system into a destination
workspace. Each document's content is written into a managed generated
region; everything outside that region belongs to destination editors
and is never touched.

Run 'dm init' to create a starter configuration, 'dm preview' to see the
pending plan, and 'dm apply' to execute it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default docmirror.yaml)")
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// app bundles the opened subsystems for one command invocation.
type app struct {
	cfg   *config.Config
	store *state.Store
	trail *audit.Trail
	eng   *engine.Engine
}

// newApp loads the configuration and opens the state store and audit
// trail. With adapters requested it also opens the configured source and
// destination adapters and the full engine; without, the engine only
// serves store-backed operations.
func newApp(withAdapters bool) *app {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("%v", err)
	}

	store, err := state.Open(cfg.StatePath)
	if err != nil {
		fatalf("failed to open state store: %v", err)
	}

	logger := cfg.NewLogger("[dm] ")
	trail, err := audit.Open(cfg.AuditLog, logger)
	if err != nil {
		store.Close()
		fatalf("failed to open audit trail: %v", err)
	}

	a := &app{cfg: cfg, store: store, trail: trail}

	var src source.Adapter
	var dst dest.Adapter
	var cache *media.Cache
	if withAdapters {
		if cfg.Source.Type == "" || cfg.Dest.Type == "" {
			a.close()
			fatalf("source.type and dest.type must be configured for this command")
		}
		src, err = source.Open(cfg.Source.Type, cfg.Source.Settings)
		if err != nil {
			a.close()
			fatalf("%v", err)
		}
		dst, err = dest.Open(cfg.Dest.Type, cfg.Dest.Settings)
		if err != nil {
			a.close()
			fatalf("%v", err)
		}
		cache, err = media.New(cfg.MediaDir, src, store, logger)
		if err != nil {
			a.close()
			fatalf("failed to open media cache: %v", err)
		}
	}

	a.eng = engine.New(src, dst, store, cache, trail, engine.Config{
		SourceType: cfg.Source.Type,
		RootPath:   cfg.RootPath,
		ItemDelay:  cfg.ItemDelay,
	}, logger)
	return a
}

func (a *app) close() {
	if a.trail != nil {
		a.trail.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}
