package mailstore

import (
	"context"
	"fmt"
	"strings"
)

// ExtractContacts resolves folderPath inside the mailbox and returns the
// unique senders of its messages. Paths are backslash-delimited; a leading
// segment equal to the mailbox name is tolerated and stripped. Addresses
// are deduplicated case-insensitively, first occurrence wins, and messages
// without a sender address are skipped.
func ExtractContacts(ctx context.Context, store Store, mailbox, folderPath string) ([]Contact, error) {
	folder, err := resolvePath(ctx, store, mailbox, folderPath)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var contacts []Contact
	err = store.Senders(ctx, mailbox, folder, func(c Contact) error {
		addr := strings.TrimSpace(c.Email)
		if addr == "" {
			return nil
		}
		key := strings.ToLower(addr)
		if seen[key] {
			return nil
		}
		seen[key] = true
		contacts = append(contacts, Contact{Name: c.Name, Email: addr})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read senders of %s: %w", folderPath, err)
	}
	return contacts, nil
}

// resolvePath descends the folder tree one segment at a time.
func resolvePath(ctx context.Context, store Store, mailbox, folderPath string) (Folder, error) {
	segments := strings.Split(strings.Trim(folderPath, `\`), `\`)
	if len(segments) > 0 && strings.EqualFold(segments[0], mailbox) {
		segments = segments[1:]
	}
	if len(segments) == 0 || segments[0] == "" {
		return Folder{}, fmt.Errorf("%w: empty folder path", ErrFolderNotFound)
	}

	level, err := store.RootFolders(ctx, mailbox)
	if err != nil {
		return Folder{}, fmt.Errorf("failed to list folders of %s: %w", mailbox, err)
	}

	var current Folder
	for i, segment := range segments {
		found := false
		for _, f := range level {
			if strings.EqualFold(f.Name, segment) {
				current = f
				found = true
				break
			}
		}
		if !found {
			return Folder{}, fmt.Errorf("%w: %s", ErrFolderNotFound, strings.Join(segments[:i+1], `\`))
		}
		if i < len(segments)-1 {
			level, err = store.ChildFolders(ctx, mailbox, current)
			if err != nil {
				return Folder{}, fmt.Errorf("failed to list children of %s: %w", current.Name, err)
			}
		}
	}
	return current, nil
}
