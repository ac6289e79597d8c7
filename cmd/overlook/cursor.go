package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/overlook-dev/overlook/internal/cursor"
	"github.com/overlook-dev/overlook/internal/types"
)

func newCursorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect and manage per-project resume cursors",
	}
	cmd.AddCommand(newCursorGetCmd(), newCursorSetCmd(), newCursorRmCmd())
	return cmd
}

// openCursorStore opens the configured cursor database, creating its
// directory on first use.
func openCursorStore() (*cursor.Store, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.CursorDB), 0o700); err != nil {
		return nil, fmt.Errorf("create cursor db directory: %w", err)
	}
	return cursor.Open(cfg.CursorDB)
}

func newCursorGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <project-key>",
		Short: "Print the stored cursor for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCursorStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			c, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if c == nil {
				fmt.Println("no cursor")
				return nil
			}
			if flagJSON {
				return json.NewEncoder(os.Stdout).Encode(c)
			}
			fmt.Printf("offset: %s\ntimestamp: %s\n",
				c.Offset, time.UnixMilli(c.Timestamp).Format(time.RFC3339))
			return nil
		},
	}
}

func newCursorSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <project-key> <offset>",
		Short: "Save a cursor for a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Offsets are opaque strings downstream, but only numeric
			// ordinals are valid input.
			if _, err := strconv.ParseUint(args[1], 10, 64); err != nil {
				return fmt.Errorf("offset must be a numeric string, got %q", args[1])
			}

			store, err := openCursorStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			return store.Save(cmd.Context(), types.Cursor{
				ProjectKey: args[0],
				Offset:     args[1],
				Timestamp:  time.Now().UnixMilli(),
			})
		},
	}
}

func newCursorRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <project-key>",
		Short: "Delete the stored cursor for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCursorStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			return store.Delete(cmd.Context(), args[0])
		},
	}
}
