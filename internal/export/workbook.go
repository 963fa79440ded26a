package export

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/parts-intake/constants"
	"github.com/joseph-ayodele/parts-intake/internal/common"
	"github.com/joseph-ayodele/parts-intake/internal/entity"
)

const partsSheet = "Parts"

// WorkbookSink keeps one workbook per email with a row per emitted part.
// Columns follow the normalized vocabulary, with the part index first.
type WorkbookSink struct {
	root   string
	name   string
	logger *slog.Logger

	mu sync.Mutex
}

func NewWorkbookSink(root, name string, logger *slog.Logger) *WorkbookSink {
	if logger == nil {
		logger = slog.Default()
	}
	if root == "" {
		root = "output"
	}
	if name == "" {
		name = "parts.xlsx"
	}
	return &WorkbookSink{root: root, name: name, logger: logger}
}

// Path returns the workbook for the destination's email.
func (s *WorkbookSink) Path(dest Destination) string {
	return filepath.Join(dest.Dir(s.root), s.name)
}

func (s *WorkbookSink) Emit(ctx context.Context, dest Destination, rec entity.FieldRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(dest)
	f, err := openWorkbook(path)
	if err != nil {
		return common.NewAppError("EXPORT_ERROR", "open "+path, err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(partsSheet)
	if err != nil {
		return fmt.Errorf("xlsx read rows: %w", err)
	}
	row := len(rows) + 1

	write := func(col int, v any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(partsSheet, cell, v)
	}
	write(1, dest.PartIndex)
	for i, key := range constants.PartFields {
		v, _ := rec.Get(key)
		write(i+2, v)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return common.NewAppError("EXPORT_ERROR", "create "+filepath.Dir(path), err)
	}
	if err := f.SaveAs(path); err != nil {
		return common.NewAppError("EXPORT_ERROR", "xlsx write "+path, err)
	}

	s.logger.Info("export.xlsx.ok",
		"email_index", dest.EmailIndex,
		"part_index", dest.PartIndex,
		"row", row,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func openWorkbook(path string) (*excelize.File, error) {
	f, err := excelize.OpenFile(path)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	f = excelize.NewFile()
	if index, _ := f.GetSheetIndex(partsSheet); index == -1 {
		if _, err := f.NewSheet(partsSheet); err != nil {
			return nil, err
		}
	}
	_ = f.DeleteSheet("Sheet1")
	activeIndex, _ := f.GetSheetIndex(partsSheet)
	f.SetActiveSheet(activeIndex)

	headers := append([]string{"part"}, constants.PartFields...)
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(partsSheet, cell, h)
	}

	_ = f.SetColWidth(partsSheet, "A", "A", 6)  // part
	_ = f.SetColWidth(partsSheet, "B", "C", 22) // vendor, part_no
	_ = f.SetColWidth(partsSheet, "H", "H", 48) // description
	_ = f.SetColWidth(partsSheet, "J", "J", 40) // notes
	return f, nil
}
