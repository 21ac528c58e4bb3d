package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/nugget/homelab-assistant/internal/store"
)

// runTools handles "homelab tools list|enable|disable". It edits the
// orchestrator database directly; a running orchestrator sees the change
// on its next chat request.
func runTools(ctx context.Context, stdout io.Writer, configPath, outputFmt string, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: homelab tools list|enable <name>|disable <name>")
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	st, err := store.NewStore(ctx, db)
	if err != nil {
		return fmt.Errorf("init database %s: %w", cfg.Database.Path, err)
	}

	switch args[0] {
	case "list":
		return listTools(ctx, stdout, st, outputFmt)
	case "enable", "disable":
		if len(args) < 2 {
			return fmt.Errorf("usage: homelab tools %s <name>", args[0])
		}
		enabled := args[0] == "enable"
		if err := st.SetToolEnabled(ctx, args[1], enabled); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s %sd\n", args[1], args[0])
		return nil
	default:
		return fmt.Errorf("unknown tools subcommand: %s", args[0])
	}
}

func listTools(ctx context.Context, w io.Writer, st *store.Store, outputFmt string) error {
	list, err := st.ListTools(ctx)
	if err != nil {
		return err
	}
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tENABLED\tDESCRIPTION")
	for _, t := range list {
		fmt.Fprintf(tw, "%s\t%v\t%s\n", t.Name, t.Enabled, t.Description)
	}
	return tw.Flush()
}
