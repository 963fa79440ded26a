package mailbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/parts-intake/constants"
	"github.com/joseph-ayodele/parts-intake/internal/common"
)

const multipartMessage = "Return-Path: <sales@vendor.example>\r\n" +
	"From: \"Vendor Sales\" <noreply@vendor.example>\r\n" +
	"Subject: =?UTF-8?B?UXVvdGU6IFBhcnQgQQ==?=\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"outer\"\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: multipart/alternative; boundary=\"inner\"\r\n" +
	"\r\n" +
	"--inner\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"Content-Transfer-Encoding: quoted-printable\r\n" +
	"\r\n" +
	"Part A, qty=3D5\r\n" +
	"--inner\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Part A, qty=5</p>\r\n" +
	"--inner--\r\n" +
	"--outer\r\n" +
	"Content-Type: application/pdf; name=\"quote.pdf\"\r\n" +
	"Content-Disposition: attachment; filename=\"quote.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"JVBERi0xLjQK\r\n" +
	"--outer\r\n" +
	"Content-Type: text/calendar; name=\"invite.ics\"\r\n" +
	"Content-Disposition: attachment; filename=\"invite.ics\"\r\n" +
	"\r\n" +
	"BEGIN:VCALENDAR\r\n" +
	"--outer--\r\n"

func TestParseMessage_Multipart(t *testing.T) {
	msg, err := ParseMessage([]byte(multipartMessage), nil)
	require.NoError(t, err)

	assert.Equal(t, "Quote: Part A", msg.Subject)
	assert.Equal(t, "sales@vendor.example", msg.Sender)
	assert.Equal(t, "Part A, qty=5", strings.TrimSpace(msg.Body()))
	require.Len(t, msg.Attachments, 2)
	assert.Equal(t, "quote.pdf", msg.Attachments[0].Filename)
	assert.Equal(t, "%PDF-1.4\n", string(msg.Attachments[0].Data))

	raws := msg.RawAttachments(7, nil)
	require.Len(t, raws, 1, "calendar invite is not rasterizable")
	assert.Equal(t, 7, raws[0].EmailIndex)
	assert.Equal(t, 1, raws[0].Ordinal)
	assert.Equal(t, constants.PDF, raws[0].MediaType)
	assert.Equal(t, "mime", raws[0].Source)
}

func TestParseMessage_HTMLOnlyFallsBackToText(t *testing.T) {
	raw := "From: buyer@example.com\r\n" +
		"Subject: plain\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<html><style>p{}</style><body><p>Part B &amp; C</p><table><tr><td>qty</td><td>2</td></tr></table></body></html>"

	msg, err := ParseMessage([]byte(raw), nil)
	require.NoError(t, err)
	assert.Equal(t, "buyer@example.com", msg.Sender)
	assert.Empty(t, msg.TextBody)

	body := msg.Body()
	assert.Contains(t, body, "Part B & C")
	assert.Contains(t, body, "qty | 2")
	assert.NotContains(t, body, "<")
	assert.NotContains(t, body, "p{}")
}

func TestParseMessage_EmptyBody(t *testing.T) {
	raw := "From: a@example.com\r\nSubject: nothing\r\n\r\n"
	msg, err := ParseMessage([]byte(raw), nil)
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(msg.Body()))
	assert.Empty(t, msg.Attachments)
}

func TestParseMessage_Invalid(t *testing.T) {
	_, err := ParseMessage([]byte("not a message"), nil)
	require.Error(t, err)
}

func TestFindLinks(t *testing.T) {
	body := "See https://files.example/q/123. Also (http://x.example/a.pdf) and https://files.example/q/123 again."
	assert.Equal(t, []string{"https://files.example/q/123", "http://x.example/a.pdf"}, FindLinks(body))
	assert.Empty(t, FindLinks("no links here"))
}

func TestLinkResolver_AcceptsPDFsOnly(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
		// served as octet-stream with no .pdf suffix, recognised by magic bytes
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("%PDF-1.7 body"))
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>login</html>"))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/huge.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-" + strings.Repeat("x", 64)))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	body := strings.Join([]string{
		srv.URL + "/page",
		srv.URL + "/download",
		srv.URL + "/missing",
		srv.URL + "/huge.pdf",
	}, "\n")

	r := NewLinkResolver(LinkConfig{MaxBytes: 32}, srv.Client(), nil)
	got := r.Resolve(context.Background(), body, 4, 3)

	require.Len(t, got, 1)
	assert.Equal(t, 4, got[0].EmailIndex)
	assert.Equal(t, 3, got[0].Ordinal)
	assert.Equal(t, "download.pdf", got[0].Filename)
	assert.Equal(t, srv.URL+"/download", got[0].Source)
	assert.Equal(t, constants.PDF, got[0].MediaType)
}

func TestLinkResolver_MaxLinks(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	body := srv.URL + "/a " + srv.URL + "/b " + srv.URL + "/c"
	r := NewLinkResolver(LinkConfig{MaxLinks: 2}, srv.Client(), nil)
	got := r.Resolve(context.Background(), body, 1, 1)

	assert.Len(t, got, 2)
	assert.EqualValues(t, 2, hits.Load())
}

func TestIsPDF(t *testing.T) {
	assert.True(t, isPDF("application/pdf", []byte("anything")))
	assert.True(t, isPDF("", []byte("\n%PDF-1.3")))
	assert.False(t, isPDF("application/pdf", nil))
	assert.False(t, isPDF("text/html", []byte("<html>")))
}

func TestDirectory_FetchAndCount(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "2024", ".trash"), 0o755))
	write := func(rel, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(root, rel), []byte(content), 0o644))
	}
	write("b.eml", "Subject: second\r\n\r\nB")
	write("a.eml", "Subject: first\r\n\r\nA")
	write("notes.txt", "ignored")
	write(filepath.Join("2024", "c.EML"), "Subject: third\r\n\r\nC")
	write(filepath.Join("2024", ".trash", "d.eml"), "Subject: deleted\r\n\r\nD")

	var mb Mailbox
	dir, err := NewDirectory(root, nil)
	require.NoError(t, err)
	mb = dir

	ctx := context.Background()
	n, err := mb.TotalMessageCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	raw, err := mb.Fetch(ctx, 1)
	require.NoError(t, err)
	msg, err := ParseMessage(raw, nil)
	require.NoError(t, err)
	assert.Equal(t, "third", msg.Subject, "2024/c.EML sorts before a.eml")

	_, err = mb.Fetch(ctx, 4)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestNewDirectory_Invalid(t *testing.T) {
	_, err := NewDirectory("", nil)
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "x.eml")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = NewDirectory(file, nil)
	require.ErrorIs(t, err, common.ErrInvalidInput)
}
