package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/disintegration/imaging"

	"github.com/joseph-ayodele/parts-intake/internal/entity"
)

var reRotate = regexp.MustCompile(`(?m)^Rotate:\s*(\d+)\s*$`)

// CorrectOrientation OCRs the page and, if it has text, rotates it upright.
// ok is false when the page carries no text and should be dropped. err is set only
// when tesseract cannot be run at all.
func (n *Normalizer) CorrectOrientation(ctx context.Context, p Page) (entity.NormalizedImage, bool, error) {
	log := n.logger.With("page", p.Ordinal)

	tmpDir, err := os.MkdirTemp("", "pi-osd-*")
	if err != nil {
		log.Warn("ocr.orientation.tempdir_failed", "error", err)
		return entity.NormalizedImage{}, false, nil
	}
	defer removeTemp(n.logger, tmpDir)

	path := filepath.Join(tmpDir, "page"+extFor(p.MIMEType))
	if err := os.WriteFile(path, p.Data, 0o600); err != nil {
		log.Warn("ocr.orientation.write_failed", "error", err)
		return entity.NormalizedImage{}, false, nil
	}

	txt, err := n.tesseractText(ctx, path)
	if isToolUnavailable(err) {
		return entity.NormalizedImage{}, false, err
	}
	if err != nil {
		log.Warn("ocr.text.failed", "error", err)
		return entity.NormalizedImage{}, false, nil
	}
	img := entity.NormalizedImage{Page: p.Ordinal, MIMEType: p.MIMEType, Data: p.Data, Text: txt}
	if !img.HasText() {
		return entity.NormalizedImage{}, false, nil
	}

	angle, err := n.detectRotation(ctx, path)
	if err != nil {
		log.Warn("ocr.orientation.detect_failed", "error", err, "hint", "passing page through unrotated")
		return img, true, nil
	}
	img.Rotation = entity.Rotation{Angle: angle, Known: true}
	if angle == 0 {
		return img, true, nil
	}

	rotated, err := rotateClockwise(p.Data, angle)
	if err != nil {
		log.Warn("ocr.orientation.rotate_failed", "angle", angle, "error", err)
		img.Rotation = entity.Rotation{}
		return img, true, nil
	}
	img.Data = rotated
	img.MIMEType = "image/png"

	// re-read the upright page; keep the first pass if the second comes back empty
	if err := os.WriteFile(path, rotated, 0o600); err == nil {
		if t, err := n.tesseractText(ctx, path); err == nil && t != "" {
			img.Text = t
		}
	}
	log.Debug("ocr.orientation.rotated", "angle", angle)
	return img, true, nil
}

func (n *Normalizer) tesseractText(ctx context.Context, path string) (string, error) {
	// tesseract <file> stdout -l <lang>
	args := []string{path, "stdout", "-l", n.cfg.TesseractLang}
	if n.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", n.cfg.TessdataDir)
	}
	out, errb, err := n.runner.Run(ctx, n.cfg.Tesseract, n.logger, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, truncate(string(errb), 512))
	}
	return NormalizeText(string(out)), nil
}

// detectRotation runs tesseract orientation/script detection and returns the clockwise
// rotation needed to make the page upright.
func (n *Normalizer) detectRotation(ctx context.Context, path string) (int, error) {
	// tesseract <file> stdout --psm 0
	args := []string{path, "stdout", "--psm", "0"}
	if n.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", n.cfg.TessdataDir)
	}
	out, errb, err := n.runner.Run(ctx, n.cfg.Tesseract, n.logger, args...)
	if err != nil {
		return 0, fmt.Errorf("tesseract osd: %w: %s", err, truncate(string(errb), 512))
	}
	return parseRotate(string(out))
}

func parseRotate(osd string) (int, error) {
	m := reRotate.FindStringSubmatch(osd)
	if m == nil {
		return 0, fmt.Errorf("no Rotate line in osd output")
	}
	angle, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, err
	}
	switch angle {
	case 0, 90, 180, 270:
		return angle, nil
	}
	return 0, fmt.Errorf("unexpected rotation %d", angle)
}

// rotateClockwise rotates encoded image bytes and re-encodes as PNG.
func rotateClockwise(data []byte, angle int) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	// imaging rotates counter-clockwise
	switch angle {
	case 90:
		src = imaging.Rotate270(src)
	case 180:
		src = imaging.Rotate180(src)
	case 270:
		src = imaging.Rotate90(src)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, src, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}

func extFor(mimeType string) string {
	if mimeType == "image/jpeg" {
		return ".jpg"
	}
	return ".png"
}
