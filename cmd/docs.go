package cmd

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
)

// front matter templates for the just-the-docs theme
// https://pmarsceill.github.io/just-the-docs/docs/navigation-structure/
const rootPage = `---
layout: default
title: %s
nav_order: %d
has_children: true
permalink: /
---
`

const childPage = `---
layout: default
title: %s
parent: %s
nav_order: %d
---
`

const childParentPage = `---
layout: default
title: %s
parent: %s
nav_order: %d
has_children: true
---
`

const grandchildPage = `---
layout: default
title: %s
parent: %s
grand_parent: %s
nav_order: %d
---
`

// pageMeta is the position of one command's page in the docs tree
type pageMeta struct {
	title       string
	navOrder    int
	hasChildren bool
	parent      string
	grandParent string
}

// docsCmd regenerates the Markdown command reference
var docsCmd = &cobra.Command{
	Use:    "docs",
	Short:  "Generate Markdown docs for every command",
	Hidden: true,
	Run: func(cmd *cobra.Command, args []string) {
		out, _ := cmd.Flags().GetString("out")
		if err := os.MkdirAll(out, 0755); err != nil {
			stderr.Fatalf("%v", err)
		}

		metas := collectMeta(rootCmd)

		// filePrepender adds the YAML heading just-the-docs requires
		filePrepender := func(filename string) string {
			name := filepath.Base(filename)
			base := strings.TrimSuffix(name, path.Ext(name))
			m, ok := metas[base]
			if !ok {
				return ""
			}

			switch {
			case m.grandParent != "":
				return fmt.Sprintf(grandchildPage, m.title, m.parent, m.grandParent, m.navOrder)
			case m.parent != "" && m.hasChildren:
				return fmt.Sprintf(childParentPage, m.title, m.parent, m.navOrder)
			case m.parent != "":
				return fmt.Sprintf(childPage, m.title, m.parent, m.navOrder)
			default:
				return fmt.Sprintf(rootPage, m.title, m.navOrder)
			}
		}

		// linkHandler returns the URL to a documentation page
		linkHandler := func(filename string) string {
			name := filepath.Base(filename)
			base := strings.TrimSuffix(name, path.Ext(name))
			if base == rootCmd.Name() {
				return "/"
			}
			return base
		}

		if err := doc.GenMarkdownTreeCustom(rootCmd, out, filePrepender, linkHandler); err != nil {
			stderr.Fatalf("%v", err)
		}
		stderr.Printf("wrote command docs to %s", out)
	},
}

// collectMeta maps doc page basenames (progen, progen_train, ...) to their
// position in the command tree.
func collectMeta(root *cobra.Command) map[string]pageMeta {
	metas := make(map[string]pageMeta)

	var walk func(c *cobra.Command, chain []string, order int)
	walk = func(c *cobra.Command, chain []string, order int) {
		base := strings.Join(append(append([]string{}, chain...), c.Name()), "_")

		m := pageMeta{
			title:       c.Name(),
			navOrder:    order,
			hasChildren: c.HasAvailableSubCommands(),
		}
		if len(chain) > 0 {
			m.parent = chain[len(chain)-1]
		}
		if len(chain) > 1 {
			m.grandParent = chain[len(chain)-2]
		}
		metas[base] = m

		next := append(append([]string{}, chain...), c.Name())
		i := 0
		for _, sub := range c.Commands() {
			if !sub.IsAvailableCommand() || sub.IsAdditionalHelpTopicCommand() {
				continue
			}
			walk(sub, next, i)
			i++
		}
	}
	walk(root, nil, 0)

	return metas
}

// set flags
func init() {
	rootCmd.AddCommand(docsCmd)

	docsCmd.Flags().StringP("out", "o", "./docs", "directory the Markdown files are written to")
}
