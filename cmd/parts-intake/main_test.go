package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/joseph-ayodele/parts-intake/constants"
	"github.com/joseph-ayodele/parts-intake/internal/entity"
	"github.com/joseph-ayodele/parts-intake/internal/pipeline"
)

func TestApp_Commands(t *testing.T) {
	app := newApp()
	var names []string
	for _, cmd := range app.Commands {
		names = append(names, cmd.Name)
	}
	assert.Equal(t, []string{"process", "watch", "count", "dbcheck"}, names)
}

func TestApp_InvalidLogLevel(t *testing.T) {
	app := newApp()
	app.Writer = &bytes.Buffer{}
	err := app.Run([]string{"parts-intake", "--log-level", "loud", "count"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestProcess_RequiresCredentials(t *testing.T) {
	t.Setenv("MAIL_DIR", "")
	t.Setenv("EMAIL_ADDRESS", "")
	t.Setenv("EMAIL_PASSWORD", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("LLM_API_KEY", "")

	app := newApp()
	app.Writer = &bytes.Buffer{}
	err := app.Run([]string{"parts-intake", "process", "--index", "1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EMAIL_ADDRESS")
}

func TestCount_MailDir(t *testing.T) {
	t.Setenv("EMAIL_ADDRESS", "")
	t.Setenv("EMAIL_PASSWORD", "")
	dir := t.TempDir()
	for _, name := range []string{"1.eml", "2.eml", "readme.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("Subject: x\r\n\r\nbody"), 0o644))
	}

	var buf bytes.Buffer
	app := newApp()
	app.Writer = &buf
	require.NoError(t, app.Run([]string{"parts-intake", "--mail-dir", dir, "count"}))
	assert.Equal(t, "2\n", buf.String())
}

func TestDBCheck_SQLite(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_URL", filepath.Join(t.TempDir(), "parts.db"))

	var buf bytes.Buffer
	app := newApp()
	app.Writer = &buf
	require.NoError(t, app.Run([]string{"parts-intake", "dbcheck"}))
	assert.Equal(t, "database sqlite: OK (0 part records)\n", buf.String())
}

func TestDBCheck_RequiresURL(t *testing.T) {
	t.Setenv("DB_URL", "")
	app := newApp()
	app.Writer = &bytes.Buffer{}
	err := app.Run([]string{"parts-intake", "dbcheck"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_URL")
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mailbox:\n  host: imap.example.com\n  start_index: 4\noutput:\n  dir: out\n"), 0o644))
	t.Setenv("OUTPUT_DIR", "from-env")
	t.Setenv("START_INDEX", "")

	app := newApp()
	app.Commands = []*cli.Command{{
		Name: "probe",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			require.NoError(t, err)
			assert.Equal(t, "imap.example.com", cfg.Mailbox.Host)
			assert.Equal(t, 4, cfg.Mailbox.StartIndex)
			assert.Equal(t, "from-env", cfg.Output.Dir)
			assert.Equal(t, 993, cfg.Mailbox.Port)
			return nil
		},
	}}
	require.NoError(t, app.Run([]string{"parts-intake", "--config", path, "probe"}))
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	app := &cli.App{Writer: &buf}
	c := cli.NewContext(app, nil, nil)

	printSummary(c, pipeline.Summary{
		Index:       3,
		Attachments: 2,
		Pages:       3,
		Documents:   1,
		Parts: []pipeline.PartResult{
			{Index: 1, State: constants.PartEmitted, Fields: entity.NewFieldRecord("qty", "5")},
			{Index: 2, State: constants.PartSkippedEmpty, Reason: "no fields after normalization"},
		},
	})
	out := buf.String()
	assert.Contains(t, out, "email 3: 2 attachment(s), 3 page(s), 1 document(s), 1 of 2 part(s) emitted")
	assert.Contains(t, out, "part 2: SKIPPED_EMPTY (no fields after normalization)")

	buf.Reset()
	printSummary(c, pipeline.Summary{
		Index: 4,
		Parts: []pipeline.PartResult{{Index: 1, State: constants.PartEmitted, MergeSkipped: true}},
	})
	assert.Contains(t, buf.String(), "part 1: EMITTED (merge skipped, no documents)")

	buf.Reset()
	printSummary(c, pipeline.Summary{Index: 9, Skipped: true, Reason: "email body is empty"})
	assert.Equal(t, "email 9 skipped: email body is empty\n", buf.String())
}
