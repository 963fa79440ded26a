package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/parts-intake/internal/common"
)

type funcModel func(ctx context.Context, req Request) (string, error)

func (f funcModel) Generate(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

type fakeClock struct {
	mu    sync.Mutex
	t     time.Time
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	c.slept = append(c.slept, d)
	return nil
}

func newTestGateway(m Model, cfg GatewayConfig) (*Gateway, *fakeClock) {
	g := NewGateway(m, cfg, nil)
	clk := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	g.now = clk.Now
	g.sleep = clk.Sleep
	return g, clk
}

func quotaErr() error {
	return fmt.Errorf("%w: googleapi: Error 429: RESOURCE_EXHAUSTED", ErrQuotaExhausted)
}

func TestGateway_AppliesDefaultParams(t *testing.T) {
	var seen []GenerationParams
	g, _ := newTestGateway(funcModel(func(_ context.Context, req Request) (string, error) {
		seen = append(seen, req.Params)
		return "ok", nil
	}), GatewayConfig{})

	_, err := g.Generate(context.Background(), Request{Task: TaskBody, Prompt: "x"})
	require.NoError(t, err)
	custom := GenerationParams{Temperature: 0, TopP: 1, TopK: 1, MaxTokens: 64}
	_, err = g.Generate(context.Background(), Request{Task: TaskBody, Prompt: "x", Params: custom})
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Equal(t, DefaultParams, seen[0])
	assert.Equal(t, custom, seen[1])
}

func TestGateway_LogsCallIDBesideJobID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	g := NewGateway(funcModel(func(context.Context, Request) (string, error) {
		return "ok", nil
	}), GatewayConfig{}, logger)

	ctx := common.WithRequestID(context.Background(), "job-1")
	_, err := g.Generate(ctx, Request{Task: TaskBody, Prompt: "x"})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	for _, line := range lines {
		assert.Equal(t, 1, strings.Count(line, `"req_id":`), line)

		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		assert.Equal(t, "job-1", entry["req_id"])
		assert.NotEmpty(t, entry["llm_req_id"])
	}
}

func TestGateway_QuotaRetryIsIdempotent(t *testing.T) {
	req := Request{Task: TaskNormalize, Instructions: "sys", Prompt: `{"qty":"5"}`}

	clean, _ := newTestGateway(funcModel(func(context.Context, Request) (string, error) {
		return `{"qty":"5"}`, nil
	}), GatewayConfig{})
	want, err := clean.Generate(context.Background(), req)
	require.NoError(t, err)

	var got []Request
	calls := 0
	g, clk := newTestGateway(funcModel(func(_ context.Context, r Request) (string, error) {
		got = append(got, r)
		calls++
		if calls == 1 {
			return "", quotaErr()
		}
		return `{"qty":"5"}`, nil
	}), GatewayConfig{})

	out, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, want, out)
	require.Len(t, got, 2)
	assert.Equal(t, got[0], got[1], "retry must resend the identical request")
	assert.Equal(t, []time.Duration{60 * time.Second}, clk.slept)
	assert.EqualValues(t, 1, g.WindowCount())
	assert.EqualValues(t, 1, g.TotalCount())
}

func TestGateway_CooldownResetsWindowCounter(t *testing.T) {
	calls := 0
	g, _ := newTestGateway(funcModel(func(context.Context, Request) (string, error) {
		calls++
		if calls == 3 {
			return "", quotaErr()
		}
		return "ok", nil
	}), GatewayConfig{Cooldown: 5 * time.Second})

	for i := 0; i < 2; i++ {
		_, err := g.Generate(context.Background(), Request{Task: TaskClassify})
		require.NoError(t, err)
	}
	assert.EqualValues(t, 2, g.WindowCount())

	_, err := g.Generate(context.Background(), Request{Task: TaskClassify})
	require.NoError(t, err)
	assert.EqualValues(t, 1, g.WindowCount())
	assert.EqualValues(t, 3, g.TotalCount())
}

func TestGateway_OtherErrorsPropagateWithoutRetry(t *testing.T) {
	boom := errors.New("connection reset by peer")
	calls := 0
	g, clk := newTestGateway(funcModel(func(context.Context, Request) (string, error) {
		calls++
		return "", boom
	}), GatewayConfig{})

	_, err := g.Generate(context.Background(), Request{Task: TaskMerge})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.Empty(t, clk.slept)
	assert.EqualValues(t, 0, g.TotalCount())
}

func TestGateway_BoundedQuotaCycles(t *testing.T) {
	calls := 0
	g, clk := newTestGateway(funcModel(func(context.Context, Request) (string, error) {
		calls++
		return "", quotaErr()
	}), GatewayConfig{MaxQuotaCycles: 2, Cooldown: time.Second})

	_, err := g.Generate(context.Background(), Request{Task: TaskBody})
	require.ErrorIs(t, err, ErrQuotaStillExhausted)
	assert.Equal(t, 3, calls)
	assert.Len(t, clk.slept, 2)
}

func TestGateway_CancelDuringCooldown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g, _ := newTestGateway(funcModel(func(context.Context, Request) (string, error) {
		cancel()
		return "", quotaErr()
	}), GatewayConfig{})

	_, err := g.Generate(ctx, Request{Task: TaskBody})
	require.ErrorIs(t, err, context.Canceled)
}

func TestGateway_ConcurrentCallersShareOneCooldown(t *testing.T) {
	g, clk := newTestGateway(funcModel(func(context.Context, Request) (string, error) {
		return "ok", nil
	}), GatewayConfig{Cooldown: time.Minute})
	log := g.logger

	g.enterCooldown(log, 1)
	first := g.cooldownUntil
	clk.t = clk.t.Add(10 * time.Second)
	g.enterCooldown(log, 1)

	assert.Equal(t, first, g.cooldownUntil, "a second worker must join, not extend, the cooldown")

	_, err := g.Generate(context.Background(), Request{Task: TaskClassify})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{50 * time.Second}, clk.slept)
}

func TestIsQuotaError(t *testing.T) {
	assert.True(t, IsQuotaError(quotaErr()))
	assert.True(t, IsQuotaError(errors.New("API returned unexpected status code: 429: Resource has been exhausted (e.g. check quota).")))
	assert.True(t, IsQuotaError(errors.New("Too Many Requests")))
	assert.False(t, IsQuotaError(errors.New("400 bad request")))
	assert.False(t, IsQuotaError(context.Canceled))
	assert.False(t, IsQuotaError(nil))
}
