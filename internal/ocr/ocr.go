package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/parts-intake/internal/entity"
)

type Config struct {
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "eng"
	TessdataDir   string
	DPI           int // rasterization DPI for PDFs, default 300
	MaxPages      int // 0 = no limit

	HeicConverter string // "heif-convert" | "magick" | "sips"
}

// Page is one rasterized page before orientation correction.
type Page struct {
	Ordinal  int // 1-based
	MIMEType string
	Data     []byte
}

// Normalizer turns attachment bytes into upright, text-bearing page images.
type Normalizer struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewNormalizer(cfg Config, logger *slog.Logger) *Normalizer {
	return newNormalizer(cfg, execRunner{}, logger)
}

func newNormalizer(cfg Config, r Runner, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	return &Normalizer{cfg: cfg, runner: r, logger: logger}
}

// Normalize rasterizes an attachment and keeps only the pages that carry OCR text,
// rotated upright. Undecodable input yields no pages; a missing pdftoppm, tesseract or
// HEIC converter is returned as ErrToolUnavailable.
func (n *Normalizer) Normalize(ctx context.Context, att entity.RawAttachment) ([]entity.NormalizedImage, error) {
	start := time.Now()
	log := n.logger.With("email_index", att.EmailIndex, "attachment", att.Ordinal, "filename", att.Filename)

	pages, err := n.Rasterize(ctx, att.Data, att.MediaType)
	if err != nil {
		log.Error("ocr.normalize.failed", "error", err)
		return nil, fmt.Errorf("attachment %d (%s): %w", att.Ordinal, att.Filename, err)
	}
	out := make([]entity.NormalizedImage, 0, len(pages))
	for _, p := range pages {
		img, ok, err := n.CorrectOrientation(ctx, p)
		if err != nil {
			log.Error("ocr.normalize.failed", "page", p.Ordinal, "error", err)
			return nil, fmt.Errorf("attachment %d (%s) page %d: %w", att.Ordinal, att.Filename, p.Ordinal, err)
		}
		if !ok {
			log.Info("ocr.page.skipped", "page", p.Ordinal, "reason", "no text detected")
			continue
		}
		img.EmailIndex = att.EmailIndex
		img.AttachmentOrdinal = att.Ordinal
		out = append(out, img)
	}

	log.Info("ocr.normalize.ok",
		"media_type", att.MediaType,
		"pages", len(pages),
		"kept", len(out),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}
