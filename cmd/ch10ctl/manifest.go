package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"example.com/ch10stream/internal/manifest"
)

func newManifestCommand() *cobra.Command {
	var keyPath string
	var create []string
	cmd := &cobra.Command{
		Use:   "manifest <manifest.json>",
		Short: "Verify a session manifest, or create one with --create",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key []byte
			if keyPath != "" {
				var err error
				if key, err = os.ReadFile(keyPath); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			base := filepath.Dir(args[0])
			if len(create) > 0 {
				m, err := manifest.Build(base, create)
				if err != nil {
					return err
				}
				if err := manifest.Save(m, args[0], key); err != nil {
					return err
				}
				fmt.Fprintf(out, "wrote %s with %d files\n", args[0], len(m.Items))
				return nil
			}
			m, err := manifest.Load(args[0], key)
			if err != nil {
				return err
			}
			bad, err := manifest.Check(m, base)
			if err != nil {
				return err
			}
			for _, p := range bad {
				fmt.Fprintf(out, "MISMATCH %s\n", p)
			}
			if len(bad) > 0 {
				return fmt.Errorf("%d of %d files do not match", len(bad), len(m.Items))
			}
			signed := "unsigned"
			if key != nil {
				signed = "signature verified"
			}
			fmt.Fprintf(out, "%s: %d files match (%s)\n", args[0], len(m.Items), signed)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "", "PEM key to sign with or to verify against")
	cmd.Flags().StringSliceVar(&create, "create", nil, "Files to list in a new manifest")
	return cmd
}
