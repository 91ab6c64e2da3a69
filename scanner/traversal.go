package scanner

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// walkLexical visits startPath depth-first. Entries of each directory are
// visited in the order os.ReadDir returns them (sorted by name), so two walks
// of an unchanged tree see the same sequence. The context is checked before
// every entry. Returning fs.SkipDir from fn for a directory prunes it; any
// other error stops the walk.
func walkLexical(ctx context.Context, startPath string, fn fs.WalkDirFunc) error {
	info, err := os.Stat(startPath)
	if err != nil {
		return fn(startPath, nil, err)
	}
	type item struct {
		path  string
		entry fs.DirEntry
	}
	stack := []item{{path: startPath, entry: fs.FileInfoToDirEntry(info)}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if err := fn(current.path, current.entry, nil); err != nil {
			if errors.Is(err, fs.SkipDir) {
				continue
			}
			return err
		}
		if !current.entry.IsDir() {
			continue
		}

		entries, err := os.ReadDir(current.path)
		if err != nil {
			if ferr := fn(current.path, current.entry, err); ferr != nil && !errors.Is(ferr, fs.SkipDir) {
				return ferr
			}
			continue
		}
		// Push in reverse so the smallest name is popped first.
		for i := len(entries) - 1; i >= 0; i-- {
			child := entries[i]
			stack = append(stack, item{
				path:  filepath.Join(current.path, child.Name()),
				entry: child,
			})
		}
	}
	return nil
}
