package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/joseph-ayodele/parts-intake/constants"
	"github.com/joseph-ayodele/parts-intake/internal/common"
	"github.com/joseph-ayodele/parts-intake/internal/entity"
	"github.com/joseph-ayodele/parts-intake/internal/llm"
)

// Generator is the inference entry point the stages call. *llm.Gateway satisfies it.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (string, error)
}

func imageOf(img entity.NormalizedImage) llm.Image {
	return llm.Image{MIMEType: img.MIMEType, Data: img.Data}
}

var reKindTag = regexp.MustCompile(`\b[12]\b`)

// ParseKind reads a classifier reply. "3" only means Other when no "1" or "2" appears, so
// an echoed form number like "8130-3" cannot outvote the answer. A standalone 1 or 2 wins,
// then the first 1 or 2 anywhere. A reply with none of 1, 2 or 3 is Unparseable.
func ParseKind(text string) constants.DocumentKind {
	text = strings.TrimSpace(text)
	if m := reKindTag.FindString(text); m != "" {
		k, _ := constants.KindFromTag(m[0])
		return k
	}
	if i := strings.IndexAny(text, "12"); i >= 0 {
		k, _ := constants.KindFromTag(text[i])
		return k
	}
	if strings.Contains(text, "3") {
		return constants.Other
	}
	return constants.Unparseable
}

type ClassifyStage struct {
	gen     Generator
	prompts llm.Prompts
	logger  *slog.Logger
}

func NewClassifyStage(gen Generator, prompts llm.Prompts, logger *slog.Logger) *ClassifyStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClassifyStage{gen: gen, prompts: prompts, logger: logger}
}

// Classify labels one page. Only gateway failures are returned as errors; an
// unreadable reply is reported as Unparseable and logged.
func (s *ClassifyStage) Classify(ctx context.Context, img entity.NormalizedImage) (constants.DocumentKind, error) {
	text, err := s.gen.Generate(ctx, llm.Request{
		Task:         llm.TaskClassify,
		Instructions: s.prompts.Classify(),
		Prompt:       "Classify the attached page.",
		Images:       []llm.Image{imageOf(img)},
	})
	if err != nil {
		return constants.Unparseable, fmt.Errorf("classify: %w", err)
	}
	kind := ParseKind(text)
	if kind == constants.Unparseable {
		s.logger.Warn("pipeline.classify.unparseable",
			append(common.LogAttrs(ctx),
				"attachment", img.AttachmentOrdinal,
				"page", img.Page,
				"reply", truncate(text, 80),
			)...,
		)
	}
	return kind, nil
}

type BodyStage struct {
	gen     Generator
	prompts llm.Prompts
	logger  *slog.Logger
}

func NewBodyStage(gen Generator, prompts llm.Prompts, logger *slog.Logger) *BodyStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &BodyStage{gen: gen, prompts: prompts, logger: logger}
}

// Extract returns one record per part described in body. Lines that fail to parse are skipped.
func (s *BodyStage) Extract(ctx context.Context, body string) ([]entity.FieldRecord, error) {
	text, err := s.gen.Generate(ctx, llm.Request{
		Task:         llm.TaskBody,
		Instructions: s.prompts.Body(),
		Prompt:       body,
	})
	if err != nil {
		return nil, fmt.Errorf("body extraction: %w", err)
	}
	log := s.logger.With(common.LogAttrs(ctx)...)
	recs, skipped := llm.ParseRecords(text, log)

	out := recs[:0]
	for _, r := range recs {
		if !r.IsEmpty() {
			out = append(out, r)
		}
	}
	log.Info("pipeline.body.extracted", "parts", len(out), "skipped_lines", skipped)
	return out, nil
}

type DocumentStage struct {
	gen     Generator
	prompts llm.Prompts
}

func NewDocumentStage(gen Generator, prompts llm.Prompts) *DocumentStage {
	return &DocumentStage{gen: gen, prompts: prompts}
}

// Extract pulls one record from a quotation or authorization page.
// A reply that is not a JSON object fails with llm.ErrUnparseable.
func (s *DocumentStage) Extract(ctx context.Context, doc entity.ClassifiedDocument) (entity.FieldRecord, error) {
	var task llm.Task
	switch doc.Kind {
	case constants.SaleQuotation:
		task = llm.TaskQuotation
	case constants.Authorization:
		task = llm.TaskAuthorization
	default:
		return entity.FieldRecord{}, fmt.Errorf("document kind %s is not extractable", doc.Kind)
	}

	text, err := s.gen.Generate(ctx, llm.Request{
		Task:         task,
		Instructions: s.prompts.Document(doc.Kind),
		Prompt:       llm.DocumentPrompt(doc.Image),
		Images:       []llm.Image{imageOf(doc.Image)},
	})
	if err != nil {
		return entity.FieldRecord{}, fmt.Errorf("%s extraction: %w", task, err)
	}
	rec, err := llm.ParseRecord(text)
	if err != nil {
		return entity.FieldRecord{}, fmt.Errorf("%s extraction: %w", task, err)
	}
	return rec, nil
}

type MergeStage struct {
	gen     Generator
	prompts llm.Prompts
}

func NewMergeStage(gen Generator, prompts llm.Prompts) *MergeStage {
	return &MergeStage{gen: gen, prompts: prompts}
}

// Merge reconciles the body record with every document record from the same email.
// The reply is passed on unvalidated. With no documents the body record is returned as JSON
// and no inference call is made.
func (s *MergeStage) Merge(ctx context.Context, body entity.FieldRecord, docs []entity.FieldRecord) (string, error) {
	if len(docs) == 0 {
		return body.String(), nil
	}
	text, err := s.gen.Generate(ctx, llm.Request{
		Task:         llm.TaskMerge,
		Instructions: s.prompts.Merge(),
		Prompt:       llm.MergePrompt(body, docs),
	})
	if err != nil {
		return "", fmt.Errorf("merge: %w", err)
	}
	return text, nil
}

type NormalizeStage struct {
	gen     Generator
	prompts llm.Prompts
	logger  *slog.Logger
}

func NewNormalizeStage(gen Generator, prompts llm.Prompts, logger *slog.Logger) *NormalizeStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &NormalizeStage{gen: gen, prompts: prompts, logger: logger}
}

// Normalize projects merged text onto the part vocabulary. A reply that is not one flat
// object is ErrUnparseable. An empty result means nothing mapped to a known field.
func (s *NormalizeStage) Normalize(ctx context.Context, merged string) (entity.FieldRecord, error) {
	text, err := s.gen.Generate(ctx, llm.Request{
		Task:         llm.TaskNormalize,
		Instructions: s.prompts.Normalize(),
		Prompt:       merged,
	})
	if err != nil {
		return entity.FieldRecord{}, fmt.Errorf("normalize: %w", err)
	}

	rec, err := llm.ParseNormalizedRecord(text)
	if err != nil {
		return entity.FieldRecord{}, fmt.Errorf("normalize: %w", err)
	}
	out, _ := llm.ProjectPartRecord(rec, s.logger.With(common.LogAttrs(ctx)...))
	return out, nil
}

// truncate keeps at most n runes of s for logging.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	if n == 1 {
		return string(r[:1])
	}
	return string(r[:n-1]) + "…"
}
