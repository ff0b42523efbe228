package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
)

var docsOpts struct {
	dir    string
	format string
}

// docsCmd renders the command reference for packaging.
var docsCmd = &cobra.Command{
	Use:    "gen-docs",
	Short:  "Write the ftpmirror command reference",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := os.MkdirAll(docsOpts.dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", docsOpts.dir, err)
		}
		root := cmd.Root()
		root.DisableAutoGenTag = true

		switch docsOpts.format {
		case "man":
			return doc.GenManTree(root, &doc.GenManHeader{
				Title:   "FTPMIRROR",
				Section: "1",
				Source:  "ftpmirror " + version,
				Manual:  "ftpmirror manual",
			}, docsOpts.dir)
		case "markdown", "md":
			return doc.GenMarkdownTree(root, docsOpts.dir)
		case "rest":
			return doc.GenReSTTree(root, docsOpts.dir)
		default:
			return fmt.Errorf("unknown format %q (man, markdown or rest)", docsOpts.format)
		}
	},
}

func init() {
	docsCmd.Flags().StringVar(&docsOpts.dir, "dir", "docs", "output directory")
	docsCmd.Flags().StringVar(&docsOpts.format, "format", "man", "man, markdown or rest")
}
