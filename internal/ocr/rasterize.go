package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/joseph-ayodele/parts-intake/constants"
)

// Rasterize decodes a payload into page images. An unreadable PDF or unsupported type
// yields no pages and no error; the error is reserved for ErrToolUnavailable.
func (n *Normalizer) Rasterize(ctx context.Context, data []byte, mt constants.MediaType) ([]Page, error) {
	switch mt {
	case constants.PDF:
		pages, err := n.pdfToPages(ctx, data)
		if isToolUnavailable(err) {
			return nil, err
		}
		if err != nil {
			n.logger.Warn("ocr.rasterize.pdf_failed", "error", err)
			return nil, nil
		}
		return pages, nil
	case constants.JPEG:
		return []Page{{Ordinal: 1, MIMEType: "image/jpeg", Data: data}}, nil
	case constants.PNG:
		return []Page{{Ordinal: 1, MIMEType: "image/png", Data: data}}, nil
	case constants.HEIC:
		png, err := convertHEIC(ctx, n.runner, n.logger, n.cfg.HeicConverter, data)
		if isToolUnavailable(err) {
			return nil, err
		}
		if err != nil {
			n.logger.Warn("ocr.rasterize.heic_failed", "error", err)
			return nil, nil
		}
		return []Page{{Ordinal: 1, MIMEType: "image/png", Data: png}}, nil
	default:
		n.logger.Warn("ocr.rasterize.unsupported", "media_type", mt)
		return nil, nil
	}
}

func (n *Normalizer) pdfToPages(ctx context.Context, data []byte) ([]Page, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty pdf payload")
	}
	tmpDir, err := os.MkdirTemp("", "pi-pp-*")
	if err != nil {
		return nil, err
	}
	defer removeTemp(n.logger, tmpDir)

	in := filepath.Join(tmpDir, "in.pdf")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, err
	}

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 300 -png <in.pdf> <tmp/page>
	_, errb, err := n.runner.Run(ctx, n.cfg.Pdftoppm, n.logger, "-r", fmt.Sprintf("%d", n.cfg.DPI), "-png", in, prefix)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, truncate(string(errb), 512))
	}

	// pdftoppm zero-pads page numbers, so lexical order is page order
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if n.cfg.MaxPages > 0 && len(matches) > n.cfg.MaxPages {
		n.logger.Warn("ocr.rasterize.page_cap", "pages", len(matches), "max_pages", n.cfg.MaxPages)
		matches = matches[:n.cfg.MaxPages]
	}

	pages := make([]Page, 0, len(matches))
	for i, path := range matches {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", i+1, err)
		}
		pages = append(pages, Page{Ordinal: i + 1, MIMEType: "image/png", Data: b})
	}
	return pages, nil
}
