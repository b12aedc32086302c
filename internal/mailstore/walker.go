package mailstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// WalkStats counts what a tree walk covered.
type WalkStats struct {
	Mailboxes      int
	Folders        int
	FailedBranches int
}

// Walker enumerates every folder of every mailbox in a store.
type Walker struct {
	store Store
	log   *slog.Logger
}

// NewWalker creates a Walker over the given store.
func NewWalker(store Store, log *slog.Logger) *Walker {
	return &Walker{store: store, log: log}
}

type walkFrame struct {
	folder Folder
	path   string
}

// Walk visits every folder depth-first, parents before children, and calls
// fn for each. An empty mailbox walks all configured mailboxes; a named one
// restricts the walk to it and is an error when unknown. A branch that
// fails to enumerate is logged and counted but does not stop the walk; an
// error from fn does.
func (w *Walker) Walk(ctx context.Context, mailbox string, fn func(FolderNode) error) (WalkStats, error) {
	var stats WalkStats

	mailboxes, err := w.store.Mailboxes(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list mailboxes: %w", err)
	}
	if mailbox != "" {
		found := false
		for _, m := range mailboxes {
			if strings.EqualFold(m, mailbox) {
				mailboxes = []string{m}
				found = true
				break
			}
		}
		if !found {
			return stats, fmt.Errorf("unknown mailbox %q", mailbox)
		}
	}

	for _, mailbox := range mailboxes {
		stats.Mailboxes++

		roots, err := w.store.RootFolders(ctx, mailbox)
		if err != nil {
			w.log.Warn("skipping mailbox, root enumeration failed",
				"mailbox", mailbox,
				"error", err,
			)
			stats.FailedBranches++
			continue
		}

		// Explicit stack; children are pushed in reverse so the visit
		// order matches recursion.
		var stack []walkFrame
		for i := len(roots) - 1; i >= 0; i-- {
			stack = append(stack, walkFrame{folder: roots[i], path: roots[i].Name})
		}

		for len(stack) > 0 {
			frame := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			stats.Folders++
			node := FolderNode{
				Mailbox:    mailbox,
				FolderPath: frame.path,
				ItemCount:  frame.folder.ItemCount,
			}
			if err := fn(node); err != nil {
				return stats, err
			}

			children, err := w.store.ChildFolders(ctx, mailbox, frame.folder)
			if err != nil {
				w.log.Warn("skipping branch, child enumeration failed",
					"mailbox", mailbox,
					"folder", frame.path,
					"error", err,
				)
				stats.FailedBranches++
				continue
			}
			for i := len(children) - 1; i >= 0; i-- {
				stack = append(stack, walkFrame{
					folder: children[i],
					path:   frame.path + `\` + children[i].Name,
				})
			}
		}
	}

	return stats, nil
}
