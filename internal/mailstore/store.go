// Package mailstore abstracts read access to a mail host's folder tree and
// message senders, independent of the transport behind it.
package mailstore

import (
	"context"
	"errors"
)

// ErrFolderNotFound reports that a folder path did not resolve.
var ErrFolderNotFound = errors.New("folder not found")

// Folder is one node of a mailbox folder tree.
type Folder struct {
	// ID identifies the folder to the backing store. Opaque to callers.
	ID string

	// Name is the display name of this folder.
	Name string

	// ItemCount is the number of messages directly in this folder.
	ItemCount int
}

// FolderNode is a folder as reported by a tree walk.
type FolderNode struct {
	Mailbox string

	// FolderPath is the backslash-delimited path from the mailbox root,
	// e.g. `Inbox\Projects\2026`. The mailbox name is not part of it.
	FolderPath string

	ItemCount int
}

// Contact is a sender extracted from a folder's messages.
type Contact struct {
	Name  string
	Email string
}

// Store reads folder trees and message senders from a mail host.
type Store interface {
	// Mailboxes lists the account mailboxes available to this store.
	Mailboxes(ctx context.Context) ([]string, error)

	// RootFolders lists the top-level folders of a mailbox.
	RootFolders(ctx context.Context, mailbox string) ([]Folder, error)

	// ChildFolders lists the direct children of a folder.
	ChildFolders(ctx context.Context, mailbox string, parent Folder) ([]Folder, error)

	// Senders streams the sender of every message in a folder.
	Senders(ctx context.Context, mailbox string, folder Folder, fn func(Contact) error) error
}
