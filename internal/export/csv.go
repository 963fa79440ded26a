package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joseph-ayodele/parts-intake/internal/common"
	"github.com/joseph-ayodele/parts-intake/internal/entity"
)

// CSVSink writes each part as <root>/email_<i>/part_<n>.csv: a header row of keys and one row of values.
type CSVSink struct {
	root   string
	logger *slog.Logger
}

func NewCSVSink(root string, logger *slog.Logger) *CSVSink {
	if logger == nil {
		logger = slog.Default()
	}
	if root == "" {
		root = "output"
	}
	return &CSVSink{root: root, logger: logger}
}

// Path returns the file a destination is written to.
func (s *CSVSink) Path(dest Destination) string {
	return filepath.Join(dest.Dir(s.root), "part_"+strconv.Itoa(dest.PartIndex)+".csv")
}

func (s *CSVSink) Emit(ctx context.Context, dest Destination, rec entity.FieldRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.IsEmpty() {
		return common.NewAppError("EXPORT_ERROR", "refusing to write empty record for "+dest.String(), common.ErrInvalidInput)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(rec.Keys()); err != nil {
		return fmt.Errorf("csv header: %w", err)
	}
	if err := w.Write(rec.Values()); err != nil {
		return fmt.Errorf("csv row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("csv flush: %w", err)
	}

	path := s.Path(dest)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return common.NewAppError("EXPORT_ERROR", "create "+filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return common.NewAppError("EXPORT_ERROR", "write "+path, err)
	}

	s.logger.Info("export.csv.ok",
		"email_index", dest.EmailIndex,
		"part_index", dest.PartIndex,
		"path", path,
		"fields", rec.Len(),
	)
	return nil
}
