package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
)

var docsCmd = &cobra.Command{
	Use:   "gen-docs",
	Short: "Generate documentation for botstream",
	Long: `Generate reference documentation for every botstream command.

Output goes to docs/<format> unless --dir is given. Pages carry no generation
date, so regenerating an unchanged CLI produces identical files.`,
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runGenDocs,
}

func init() {
	docsCmd.Flags().String("dir", "", "output directory (default docs/<format>)")
	docsCmd.Flags().String("format", "man", "output format (man, markdown, or yaml)")
}

func runGenDocs(cmd *cobra.Command, _ []string) error {
	dir, _ := cmd.Flags().GetString("dir")       //nolint:errcheck // flag name is hardcoded
	format, _ := cmd.Flags().GetString("format") //nolint:errcheck // flag name is hardcoded

	if dir == "" {
		dir = filepath.Join("docs", format)
	}
	if err := genDocs(cmd.Root(), dir, format); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %s docs to %s\n", format, dir)
	return nil
}

// genDocs writes the docs for root and all its visible subcommands to dir.
func genDocs(root *cobra.Command, dir, format string) error {
	var gen func() error
	switch format {
	case "man":
		gen = func() error {
			return doc.GenManTree(root, &doc.GenManHeader{
				Title:   "BOTSTREAM",
				Section: "1",
				Source:  "botstream " + version,
				Manual:  "botstream manual",
			}, dir)
		}
	case "markdown":
		gen = func() error { return doc.GenMarkdownTree(root, dir) }
	case "yaml":
		gen = func() error { return doc.GenYamlTree(root, dir) }
	default:
		return fmt.Errorf("unknown format %q (use man, markdown, or yaml)", format)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	root.DisableAutoGenTag = true
	if err := gen(); err != nil {
		return fmt.Errorf("generate %s docs: %w", format, err)
	}
	return nil
}
