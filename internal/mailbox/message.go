package mailbox

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"path"
	"regexp"
	"strings"

	"github.com/joseph-ayodele/parts-intake/constants"
	"github.com/joseph-ayodele/parts-intake/internal/entity"
)

// Message is the decoded view of one email the pipeline needs.
type Message struct {
	Subject     string
	Sender      string
	TextBody    string
	HTMLBody    string
	Attachments []Attachment
}

// Attachment is a file part of a message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Body returns the plain-text body, falling back to the HTML body stripped of markup.
func (m *Message) Body() string {
	if strings.TrimSpace(m.TextBody) != "" {
		return m.TextBody
	}
	if m.HTMLBody != "" {
		return htmlToText(m.HTMLBody)
	}
	return ""
}

// RawAttachments returns the attachments the normalizer can rasterize, numbered from 1.
// Anything else (signatures, calendar invites, spreadsheets) is logged and dropped.
func (m *Message) RawAttachments(emailIndex int, logger *slog.Logger) []entity.RawAttachment {
	if logger == nil {
		logger = slog.Default()
	}
	var out []entity.RawAttachment
	for _, a := range m.Attachments {
		mt, ok := constants.MediaTypeFromExt(path.Ext(a.Filename))
		if !ok {
			mt, ok = constants.MediaTypeFromContentType(a.ContentType)
		}
		if !ok {
			logger.Info("mailbox.attachment.unsupported", "email_index", emailIndex, "attachment", a.Filename, "content_type", a.ContentType)
			continue
		}
		out = append(out, entity.RawAttachment{
			EmailIndex: emailIndex,
			Ordinal:    len(out) + 1,
			Filename:   a.Filename,
			Source:     "mime",
			MediaType:  mt,
			Data:       a.Data,
		})
	}
	return out
}

var wordDecoder = new(mime.WordDecoder)

// ParseMessage parses a raw RFC 5322 message, walking nested multiparts.
// The sender is taken from Return-Path, then From.
func ParseMessage(raw []byte, logger *slog.Logger) (*Message, error) {
	if logger == nil {
		logger = slog.Default()
	}
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	out := &Message{
		Subject: decodeHeader(msg.Header.Get("Subject")),
		Sender:  senderAddress(msg.Header),
	}

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		logger.Warn("mailbox.parse.bad_content_type", "content_type", contentType, "error", err)
		body, readErr := io.ReadAll(msg.Body)
		if readErr != nil {
			return nil, fmt.Errorf("read message body: %w", readErr)
		}
		out.TextBody = string(body)
		return out, nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		if params["boundary"] == "" {
			return nil, fmt.Errorf("multipart message missing boundary")
		}
		if err := walkMultipart(msg.Body, params["boundary"], out, logger); err != nil {
			return nil, fmt.Errorf("parse multipart message: %w", err)
		}
		return out, nil
	}

	body, err := decodeTransfer(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
	if err != nil {
		return nil, fmt.Errorf("read message body: %w", err)
	}
	switch mediaType {
	case "text/html":
		out.HTMLBody = string(body)
	case "text/plain":
		out.TextBody = string(body)
	default:
		// single-part message that is itself a file
		name := filenameFromParams(msg.Header.Get("Content-Disposition"), params, mediaType)
		out.Attachments = append(out.Attachments, Attachment{Filename: name, ContentType: mediaType, Data: body})
	}
	return out, nil
}

func walkMultipart(r io.Reader, boundary string, out *Message, logger *slog.Logger) error {
	mr := multipart.NewReader(r, boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read next part: %w", err)
		}

		ct := part.Header.Get("Content-Type")
		if ct == "" {
			ct = "text/plain"
		}
		mediaType, params, err := mime.ParseMediaType(ct)
		if err != nil {
			logger.Warn("mailbox.parse.part_skipped", "content_type", ct, "error", err)
			continue
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			if err := walkMultipart(part, params["boundary"], out, logger); err != nil {
				logger.Warn("mailbox.parse.nested_failed", "error", err)
			}
			continue
		}

		// multipart.Reader already strips quoted-printable
		content, err := decodeTransfer(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			logger.Warn("mailbox.parse.part_unreadable", "content_type", mediaType, "error", err)
			continue
		}

		disposition := strings.ToLower(part.Header.Get("Content-Disposition"))
		filename := decodeHeader(part.FileName())
		if filename == "" {
			filename = decodeHeader(params["name"])
		}
		isAttachment := strings.HasPrefix(disposition, "attachment") ||
			(filename != "" && mediaType != "text/plain" && mediaType != "text/html")

		switch {
		case isAttachment:
			if filename == "" {
				filename = filenameFromParams("", params, mediaType)
			}
			out.Attachments = append(out.Attachments, Attachment{Filename: filename, ContentType: mediaType, Data: content})
		case mediaType == "text/plain":
			if out.TextBody == "" {
				out.TextBody = string(content)
			}
		case mediaType == "text/html":
			if out.HTMLBody == "" {
				out.HTMLBody = string(content)
			}
		default:
			logger.Warn("mailbox.parse.part_skipped", "content_type", mediaType, "disposition", disposition)
		}
	}
}

func decodeTransfer(r io.Reader, encoding string) ([]byte, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		cleaned := strings.NewReplacer("\r", "", "\n", "", " ", "").Replace(string(raw))
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
			if err != nil {
				return nil, fmt.Errorf("decode base64 content: %w", err)
			}
		}
		return decoded, nil
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(bytes.NewReader(raw)))
	default:
		return raw, nil
	}
}

func filenameFromParams(disposition string, params map[string]string, mediaType string) string {
	if disposition != "" {
		if _, dp, err := mime.ParseMediaType(disposition); err == nil && dp["filename"] != "" {
			return decodeHeader(dp["filename"])
		}
	}
	if name := params["name"]; name != "" {
		return decodeHeader(name)
	}
	if _, sub, ok := strings.Cut(mediaType, "/"); ok {
		return "attachment." + sub
	}
	return "attachment"
}

func decodeHeader(v string) string {
	if v == "" {
		return v
	}
	d, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return d
}

func senderAddress(h mail.Header) string {
	for _, key := range []string{"Return-Path", "From"} {
		v := strings.TrimSpace(decodeHeader(h.Get(key)))
		if v == "" || v == "<>" {
			continue
		}
		if addr, err := mail.ParseAddress(v); err == nil {
			return addr.Address
		}
		return strings.Trim(v, "<>")
	}
	return ""
}

var (
	reScriptStyle = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	reBreaks      = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/tr|/li|/h[1-6])\s*/?>`)
	reCells       = regexp.MustCompile(`(?i)</t[dh]\s*>`)
	reTags        = regexp.MustCompile(`<[^>]+>`)
	reBlankRuns   = regexp.MustCompile(`\n[ \t]*\n[\s]*`)
)

// htmlToText keeps line and cell structure so tabular part lists survive.
func htmlToText(s string) string {
	s = reScriptStyle.ReplaceAllString(s, "")
	s = reBreaks.ReplaceAllString(s, "\n")
	s = reCells.ReplaceAllString(s, " | ")
	s = reTags.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = reBlankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
