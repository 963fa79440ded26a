package mailbox

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/parts-intake/constants"
	"github.com/joseph-ayodele/parts-intake/internal/entity"
)

// LinkConfig bounds how many linked downloads are fetched per email and how large they may be.
type LinkConfig struct {
	MaxLinks int
	MaxBytes int64
	Timeout  time.Duration
}

// LinkResolver turns hyperlinks in an email body into PDF attachments.
type LinkResolver struct {
	cfg    LinkConfig
	client *http.Client
	logger *slog.Logger
}

var reLink = regexp.MustCompile(`https?://[^\s<>"'()\[\]]+`)

func NewLinkResolver(cfg LinkConfig, client *http.Client, logger *slog.Logger) *LinkResolver {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxLinks <= 0 {
		cfg.MaxLinks = 10
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 25 << 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &LinkResolver{cfg: cfg, client: client, logger: logger}
}

// FindLinks returns the distinct http(s) URLs in body, in order of appearance.
func FindLinks(body string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range reLink.FindAllString(body, -1) {
		m = strings.TrimRight(m, ".,;:!?")
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// Resolve downloads every linked PDF in body. Ordinals continue from startOrdinal so
// linked documents sort after MIME attachments. Failures are logged and skipped.
func (r *LinkResolver) Resolve(ctx context.Context, body string, emailIndex, startOrdinal int) []entity.RawAttachment {
	links := FindLinks(body)
	if len(links) > r.cfg.MaxLinks {
		r.logger.Warn("mailbox.links.capped", "email_index", emailIndex, "found", len(links), "max", r.cfg.MaxLinks)
		links = links[:r.cfg.MaxLinks]
	}

	var out []entity.RawAttachment
	ordinal := startOrdinal
	for _, link := range links {
		if ctx.Err() != nil {
			break
		}
		data, ok := r.fetchPDF(ctx, link)
		if !ok {
			continue
		}
		out = append(out, entity.RawAttachment{
			EmailIndex: emailIndex,
			Ordinal:    ordinal,
			Filename:   linkFilename(link, ordinal),
			Source:     link,
			MediaType:  constants.PDF,
			Data:       data,
		})
		ordinal++
	}
	return out
}

func (r *LinkResolver) fetchPDF(ctx context.Context, link string) ([]byte, bool) {
	reqID := uuid.New().String()
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		r.logger.Warn("mailbox.links.build_request_error", "req_id", reqID, "url", link, "error", err)
		return nil, false
	}
	r.logger.Info("mailbox.links.request", "req_id", reqID, "url", link)

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("mailbox.links.send_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, false
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			r.logger.Warn("mailbox.links.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	if resp.StatusCode/100 != 2 {
		r.logger.Warn("mailbox.links.non_2xx", "req_id", reqID, "status", resp.StatusCode)
		return nil, false
	}

	// one extra byte to detect oversize bodies
	raw, err := io.ReadAll(io.LimitReader(resp.Body, r.cfg.MaxBytes+1))
	if err != nil {
		r.logger.Warn("mailbox.links.read_error", "req_id", reqID, "error", err)
		return nil, false
	}
	if int64(len(raw)) > r.cfg.MaxBytes {
		r.logger.Warn("mailbox.links.too_large", "req_id", reqID, "max_bytes", r.cfg.MaxBytes)
		return nil, false
	}

	r.logger.Info("mailbox.links.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"content_type", resp.Header.Get("Content-Type"),
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if !isPDF(resp.Header.Get("Content-Type"), raw) {
		r.logger.Debug("mailbox.links.not_pdf", "req_id", reqID, "url", link)
		return nil, false
	}
	return raw, true
}

func isPDF(contentType string, body []byte) bool {
	if bytes.HasPrefix(bytes.TrimLeft(body, "\r\n\t "), []byte("%PDF-")) {
		return true
	}
	if mt, ok := constants.MediaTypeFromContentType(contentType); ok && mt == constants.PDF {
		return len(body) > 0
	}
	return false
}

func linkFilename(link string, ordinal int) string {
	if u, err := url.Parse(link); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			if path.Ext(base) == "" {
				base += ".pdf"
			}
			return base
		}
	}
	return "link_" + strconv.Itoa(ordinal) + ".pdf"
}
