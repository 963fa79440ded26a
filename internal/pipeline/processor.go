package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/parts-intake/constants"
	"github.com/joseph-ayodele/parts-intake/internal/common"
	"github.com/joseph-ayodele/parts-intake/internal/entity"
	"github.com/joseph-ayodele/parts-intake/internal/export"
	"github.com/joseph-ayodele/parts-intake/internal/llm"
	"github.com/joseph-ayodele/parts-intake/internal/mailbox"
	"github.com/joseph-ayodele/parts-intake/internal/metrics"
)

// MessageSource fetches raw messages by 1-based mailbox index.
type MessageSource interface {
	Fetch(ctx context.Context, index int) ([]byte, error)
}

// ImageNormalizer turns one attachment into upright, text-bearing pages. An error means
// the attachment could not be examined at all (e.g. OCR tooling is missing), not that it
// had no content.
type ImageNormalizer interface {
	Normalize(ctx context.Context, att entity.RawAttachment) ([]entity.NormalizedImage, error)
}

// LinkResolver downloads PDFs linked from a body.
type LinkResolver interface {
	Resolve(ctx context.Context, body string, emailIndex, startOrdinal int) []entity.RawAttachment
}

// Dependencies wires a Processor. Links is optional.
type Dependencies struct {
	Source     MessageSource
	Normalizer ImageNormalizer
	Links      LinkResolver
	Model      Generator
	Sink       export.Sink
	Prompts    llm.Prompts
}

// PartResult is the outcome of one part.
type PartResult struct {
	Index  int
	State  constants.PartState
	Reason string
	Fields entity.FieldRecord
	// MergeSkipped is set when the email had no document records, so the body record
	// went to normalization without a merge call.
	MergeSkipped bool
}

// Summary reports what happened to one email.
type Summary struct {
	JobID       uuid.UUID
	Index       int
	Subject     string
	Sender      string
	Skipped     bool
	Reason      string
	Attachments int
	Pages       int
	Documents   int
	Parts       []PartResult
}

// Emitted counts parts that were written to the sink.
func (s Summary) Emitted() int {
	n := 0
	for _, p := range s.Parts {
		if p.State == constants.PartEmitted {
			n++
		}
	}
	return n
}

// Processor drives one email through normalize, classify, extract, merge, normalize and emit.
type Processor struct {
	source     MessageSource
	normalizer ImageNormalizer
	links      LinkResolver
	sink       export.Sink

	classify  *ClassifyStage
	body      *BodyStage
	document  *DocumentStage
	merge     *MergeStage
	normalize *NormalizeStage

	logger *slog.Logger
}

func NewProcessor(deps Dependencies, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		source:     deps.Source,
		normalizer: deps.Normalizer,
		links:      deps.Links,
		sink:       deps.Sink,
		classify:   NewClassifyStage(deps.Model, deps.Prompts, logger),
		body:       NewBodyStage(deps.Model, deps.Prompts, logger),
		document:   NewDocumentStage(deps.Model, deps.Prompts),
		merge:      NewMergeStage(deps.Model, deps.Prompts),
		normalize:  NewNormalizeStage(deps.Model, deps.Prompts, logger),
		logger:     logger,
	}
}

// ProcessEmail runs the whole pipeline for the message at index. Degenerate input
// (empty body, no parts) is a skip, not an error. Errors are returned only for
// failures that leave the email unfinished: fetch, sink writes, cancellation and
// an exhausted quota.
func (p *Processor) ProcessEmail(ctx context.Context, index int) (Summary, error) {
	job := entity.NewEmailJob(index)
	ctx = common.WithEmailIndex(ctx, index)
	if common.RequestIDFromContext(ctx) == "" {
		ctx = common.WithRequestID(ctx, job.ID.String())
	}
	log := p.logger.With(common.LogAttrs(ctx)...)
	summary := Summary{JobID: job.ID, Index: index}

	log.Info("pipeline.email.start")

	raw, err := p.source.Fetch(ctx, index)
	if err != nil {
		metrics.EmailsProcessed.WithLabelValues("failed").Inc()
		log.Error("pipeline.email.fetch_failed", "error", err)
		return summary, fmt.Errorf("fetch email %d: %w", index, err)
	}
	msg, err := mailbox.ParseMessage(raw, log)
	if err != nil {
		metrics.EmailsProcessed.WithLabelValues("failed").Inc()
		log.Error("pipeline.email.parse_failed", "error", err)
		return summary, fmt.Errorf("parse email %d: %w", index, err)
	}
	job.Subject, job.Sender, job.Body = msg.Subject, msg.Sender, msg.Body()
	summary.Subject, summary.Sender = job.Subject, job.Sender
	log.Info("pipeline.email.fetched", "subject", job.Subject, "sender", job.Sender, "body_len", len(job.Body))

	job.Attachments = msg.RawAttachments(index, log)
	if p.links != nil && strings.TrimSpace(job.Body) != "" {
		job.Attachments = append(job.Attachments, p.links.Resolve(ctx, job.Body, index, len(job.Attachments)+1)...)
	}
	summary.Attachments = len(job.Attachments)

	for _, att := range job.Attachments {
		imgs, err := p.normalizer.Normalize(ctx, att)
		if err != nil {
			return p.failEmail(log, summary, fmt.Errorf("normalize attachments: %w", err))
		}
		for _, img := range imgs {
			if img.HasText() {
				job.Images = append(job.Images, img)
			}
		}
	}
	// raw bytes are not needed past normalization
	job.Attachments = nil
	summary.Pages = len(job.Images)
	log.Info("pipeline.email.normalized", "attachments", summary.Attachments, "pages", summary.Pages)

	if strings.TrimSpace(job.Body) == "" {
		return p.skipEmail(log, summary, ErrEmptyBody.Error()), nil
	}

	bodyRecs, err := p.body.Extract(ctx, job.Body)
	if err != nil {
		if isFatal(err) {
			return p.failEmail(log, summary, err)
		}
		log.Warn("pipeline.body.failed", "error", err)
		return p.skipEmail(log, summary, "body extraction failed: "+err.Error()), nil
	}
	if len(bodyRecs) == 0 {
		return p.skipEmail(log, summary, ErrNoParts.Error()), nil
	}
	for i, rec := range bodyRecs {
		job.Parts = append(job.Parts, entity.NewPartUnit(index, i+1, rec))
	}

	if err := p.extractDocuments(ctx, log, job); err != nil {
		return p.failEmail(log, summary, err)
	}
	summary.Documents = len(job.Documents)

	for _, part := range job.Parts {
		err := p.processPart(common.WithPartIndex(ctx, part.Index), part, job.Documents)
		summary.Parts = append(summary.Parts, PartResult{
			Index:        part.Index,
			State:        part.State,
			Reason:       part.Reason,
			Fields:       part.Normalized,
			MergeSkipped: len(job.Documents) == 0,
		})
		if err != nil {
			return p.failEmail(log, summary, err)
		}
	}

	metrics.EmailsProcessed.WithLabelValues("processed").Inc()
	log.Info("pipeline.email.done",
		"parts", len(summary.Parts),
		"emitted", summary.Emitted(),
		"documents", summary.Documents,
		"elapsed_ms", time.Since(job.StartedAt).Milliseconds(),
	)
	return summary, nil
}

// extractDocuments classifies every page and extracts fields from quotations and
// authorizations. A bad page is logged and dropped without touching its siblings.
func (p *Processor) extractDocuments(ctx context.Context, log *slog.Logger, job *entity.EmailJob) error {
	for _, img := range job.Images {
		plog := log.With("attachment", img.AttachmentOrdinal, "page", img.Page)

		kind, err := p.classify.Classify(ctx, img)
		if err != nil {
			if isFatal(err) {
				return err
			}
			plog.Warn("pipeline.document.skipped", "reason", "classification failed", "error", err)
			continue
		}
		metrics.DocumentsClassified.WithLabelValues(string(kind)).Inc()
		if !kind.Extractable() {
			plog.Info("pipeline.document.skipped", "reason", "not extractable", "kind", kind)
			continue
		}

		rec, err := p.document.Extract(ctx, entity.ClassifiedDocument{Image: img, Kind: kind})
		if err != nil {
			if isFatal(err) {
				return err
			}
			plog.Warn("pipeline.document.skipped", "reason", "extraction failed", "kind", kind, "error", err)
			continue
		}
		if rec.IsEmpty() {
			plog.Info("pipeline.document.skipped", "reason", "no fields", "kind", kind)
			continue
		}
		job.Documents = append(job.Documents, rec)
		plog.Info("pipeline.document.extracted", "kind", kind, "fields", rec.Len())
	}
	return nil
}

// processPart merges, normalizes and emits one part. Only fatal errors are returned;
// everything else ends the part in a skip state.
func (p *Processor) processPart(ctx context.Context, part *entity.PartUnit, docs []entity.FieldRecord) error {
	log := p.logger.With(common.LogAttrs(ctx)...)

	if len(docs) == 0 {
		log.Info("pipeline.merge.skipped", "reason", "no document records")
	}
	merged, err := p.merge.Merge(ctx, part.Body, docs)
	if err != nil {
		if isFatal(err) {
			return err
		}
		return p.skipPart(log, part, constants.PartSkippedParseError, err.Error())
	}
	part.Merged = merged
	if err := part.Advance(constants.PartMerged); err != nil {
		return err
	}

	rec, err := p.normalize.Normalize(ctx, merged)
	if err != nil {
		if isFatal(err) {
			return err
		}
		return p.skipPart(log, part, constants.PartSkippedParseError, err.Error())
	}
	if rec.IsEmpty() {
		return p.skipPart(log, part, constants.PartSkippedEmpty, "no fields after normalization")
	}
	part.Normalized = rec
	if err := part.Advance(constants.PartNormalized); err != nil {
		return err
	}

	dest := export.Destination{EmailIndex: part.EmailIndex, PartIndex: part.Index}
	if err := p.sink.Emit(ctx, dest, rec); err != nil {
		log.Error("pipeline.part.emit_failed", "error", err)
		return fmt.Errorf("emit %s: %w", dest, err)
	}
	if err := part.Advance(constants.PartEmitted); err != nil {
		return err
	}
	metrics.PartsFinished.WithLabelValues(string(part.State)).Inc()
	log.Info("pipeline.part.emitted", "fields", rec.Len())
	return nil
}

func (p *Processor) skipPart(log *slog.Logger, part *entity.PartUnit, to constants.PartState, reason string) error {
	if err := part.Skip(to, reason); err != nil {
		return err
	}
	metrics.PartsFinished.WithLabelValues(string(to)).Inc()
	log.Warn("pipeline.part.skipped", "state", to, "reason", reason)
	return nil
}

func (p *Processor) skipEmail(log *slog.Logger, s Summary, reason string) Summary {
	s.Skipped = true
	s.Reason = reason
	metrics.EmailsProcessed.WithLabelValues("skipped").Inc()
	log.Info("pipeline.email.skipped", "reason", reason)
	return s
}

func (p *Processor) failEmail(log *slog.Logger, s Summary, err error) (Summary, error) {
	metrics.EmailsProcessed.WithLabelValues("failed").Inc()
	if errors.Is(err, llm.ErrQuotaStillExhausted) {
		log.Error("pipeline.email.quota_exhausted", "error", err)
	} else {
		log.Error("pipeline.email.failed", "error", err)
	}
	return s, fmt.Errorf("email %d: %w", s.Index, err)
}
