package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// convertHEIC turns HEIC/HEIF bytes into PNG bytes using the chosen converter.
// converter: "heif-convert" | "magick" | "sips"
func convertHEIC(ctx context.Context, r Runner, logger *slog.Logger, converter string, data []byte) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "pi-heic-*")
	if err != nil {
		return nil, err
	}
	defer removeTemp(logger, tmpDir)

	in := filepath.Join(tmpDir, "in.heic")
	out := filepath.Join(tmpDir, "page.png")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, err
	}

	var args []string
	switch converter {
	case "heif-convert", "magick":
		args = []string{in, out}
	case "sips":
		args = []string{"-s", "format", "png", in, "--out", out}
	default:
		return nil, fmt.Errorf("HEIC not supported: set HEIC_CONVERTER to one of: heif-convert | magick | sips")
	}
	if _, errb, err := r.Run(ctx, converter, logger, args...); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", converter, err, truncate(string(errb), 512))
	}

	png, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("HEIC conversion produced no output: %w", err)
	}
	return png, nil
}

func removeTemp(logger *slog.Logger, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		logger.Warn("failed to remove temp dir", "dir", dir, "error", err)
	}
}
