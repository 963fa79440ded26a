package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joseph-ayodele/parts-intake/internal/common"
)

// Directory is a Mailbox over a folder of .eml files, for replaying saved mail offline.
// Messages are numbered 1..N in lexical path order, so new files should sort last.
type Directory struct {
	root   string
	logger *slog.Logger
}

func NewDirectory(root string, logger *slog.Logger) (*Directory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("mail directory is required")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, common.NewAppError("MAILBOX_ERROR", "open "+root, err)
	}
	if !info.IsDir() {
		return nil, common.NewAppError("MAILBOX_ERROR", root+" is not a directory", common.ErrInvalidInput)
	}
	return &Directory{root: root, logger: logger}, nil
}

func (d *Directory) Login(string, string) error  { return nil }
func (d *Directory) SelectMailbox(string) error { return nil }
func (d *Directory) Logout() error              { return nil }

func (d *Directory) TotalMessageCount(ctx context.Context) (int, error) {
	files, err := d.list(ctx)
	if err != nil {
		return 0, err
	}
	return len(files), nil
}

func (d *Directory) Fetch(ctx context.Context, index int) ([]byte, error) {
	files, err := d.list(ctx)
	if err != nil {
		return nil, err
	}
	if index < 1 || index > len(files) {
		return nil, common.NewAppError("MAILBOX_ERROR", fmt.Sprintf("message %d in %s", index, d.root), common.ErrNotFound)
	}
	raw, err := os.ReadFile(files[index-1])
	if err != nil {
		return nil, common.NewAppError("MAILBOX_ERROR", "read "+files[index-1], err)
	}
	d.logger.Debug("mailbox.fetch.ok", "index", index, "path", files[index-1], "bytes", len(raw))
	return raw, nil
}

// list walks root for .eml files, skipping hidden files and directories.
func (d *Directory) list(ctx context.Context) ([]string, error) {
	var files []string
	err := filepath.WalkDir(d.root, func(path string, e fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			d.logger.Warn("mailbox.dir.walk_error", "path", path, "error", walkErr)
			return nil
		}
		if path != d.root && isHidden(path) {
			if e.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if e.IsDir() || !strings.EqualFold(filepath.Ext(path), ".eml") {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
