// Package cleanup marks descriptor files as handled once a worker accepted
// them, so the same file is never handed off twice.
package cleanup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/italolelis/watchdir/internal/logctx"
	"github.com/italolelis/watchdir/internal/watcher"
)

// Strategy names accepted by New.
const (
	StrategyRename = "rename"
	StrategyMove   = "move"
	StrategyDelete = "delete"
)

const DefaultSuffix = ".added"

const dirPerm = 0o755

// PostProcessor handles a file after a successful hand-off.
type PostProcessor interface {
	Name() string
	Process(ctx context.Context, path string) error
}

// New builds the named strategy. A rename suffix that leaves the name
// looking like a descriptor file is rejected, since the rename itself would
// be reported as a new file.
func New(strategy, suffix, dir string) (PostProcessor, error) {
	switch strings.ToLower(strategy) {
	case "", StrategyRename:
		if suffix == "" {
			suffix = DefaultSuffix
		}

		renamed := watcher.Event{Name: "file" + watcher.DescriptorExt + suffix, Kind: watcher.KindMovedTo}
		if watcher.Qualifies(renamed) {
			return nil, fmt.Errorf("processed suffix %q must not end in %s", suffix, watcher.DescriptorExt)
		}

		return &Rename{Suffix: suffix}, nil
	case StrategyMove:
		if dir == "" {
			return nil, fmt.Errorf("post-process strategy %q needs a processed directory", StrategyMove)
		}

		return &Move{Dir: dir}, nil
	case StrategyDelete:
		return Remove{}, nil
	default:
		return nil, fmt.Errorf("unknown post-process strategy %q", strategy)
	}
}

// Rename appends Suffix to the file name in place.
type Rename struct {
	Suffix string
}

func (r *Rename) Name() string { return StrategyRename }

func (r *Rename) Process(ctx context.Context, path string) error {
	target := path + r.Suffix

	if err := os.Rename(path, target); err != nil {
		return fmt.Errorf("failed to rename %s: %w", path, err)
	}

	logctx.LoggerFromContext(ctx).Debug("renamed processed file", "file", path, "target", target)

	return nil
}

// Move relocates the file into Dir, keeping its name.
type Move struct {
	Dir string
}

func (m *Move) Name() string { return StrategyMove }

func (m *Move) Process(ctx context.Context, path string) error {
	if err := os.MkdirAll(m.Dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create processed directory: %w", err)
	}

	target := filepath.Join(m.Dir, filepath.Base(path))

	if err := os.Rename(path, target); err != nil {
		return fmt.Errorf("failed to move %s: %w", path, err)
	}

	logctx.LoggerFromContext(ctx).Debug("moved processed file", "file", path, "target", target)

	return nil
}

// Remove deletes the file.
type Remove struct{}

func (Remove) Name() string { return StrategyDelete }

func (Remove) Process(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}

	logctx.LoggerFromContext(ctx).Debug("deleted processed file", "file", path)

	return nil
}
