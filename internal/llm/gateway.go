package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/parts-intake/internal/common"
	"github.com/joseph-ayodele/parts-intake/internal/metrics"
)

// GatewayConfig holds the defaults and quota policy shared by every call.
type GatewayConfig struct {
	Defaults GenerationParams
	Cooldown time.Duration // default 60s
	// MaxQuotaCycles bounds consecutive cooldowns for one call; 0 retries forever.
	MaxQuotaCycles int
}

// DefaultParams are the sampling settings used when a request carries none.
var DefaultParams = GenerationParams{Temperature: 0.5, TopP: 0.9, TopK: 40, MaxTokens: 2048}

// Gateway is the only path to the inference service. It fills in default params,
// waits out quota exhaustion, and counts requests.
type Gateway struct {
	model  Model
	cfg    GatewayConfig
	logger *slog.Logger

	window atomic.Int64
	total  atomic.Int64

	mu            sync.Mutex
	cooldownUntil time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewGateway(model Model, cfg GatewayConfig, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Defaults.IsZero() {
		cfg.Defaults = DefaultParams
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	return &Gateway{
		model:  model,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// WindowCount is the number of successful calls since the last quota cooldown.
func (g *Gateway) WindowCount() int64 { return g.window.Load() }

// TotalCount is the number of successful calls over the gateway's lifetime.
func (g *Gateway) TotalCount() int64 { return g.total.Load() }

// Generate sends req, retrying the identical request after a cooldown whenever the
// service reports quota exhaustion. Any other failure is returned as is.
func (g *Gateway) Generate(ctx context.Context, req Request) (string, error) {
	if req.Params.IsZero() {
		req.Params = g.cfg.Defaults
	}
	rid := uuid.New().String()
	log := g.logger.With(common.LogAttrs(ctx)...).With("llm_req_id", rid, "task", req.Task)

	for cycles := 0; ; {
		if err := g.waitCooldown(ctx); err != nil {
			return "", err
		}

		log.Info("llm.gateway.request",
			"prompt_len", len(req.Prompt),
			"images", len(req.Images),
		)
		start := g.now()
		text, err := g.model.Generate(ctx, req)
		elapsed := g.now().Sub(start)
		metrics.InferenceLatency.WithLabelValues(string(req.Task)).Observe(elapsed.Seconds())

		if err == nil {
			g.window.Add(1)
			g.total.Add(1)
			metrics.InferenceWindow.Set(float64(g.window.Load()))
			metrics.InferenceRequests.WithLabelValues(string(req.Task), "ok").Inc()
			log.Info("llm.gateway.response",
				"bytes", len(text),
				"window_count", g.window.Load(),
				"total_count", g.total.Load(),
				"elapsed_ms", elapsed.Milliseconds(),
			)
			return text, nil
		}

		if !errors.Is(err, ErrQuotaExhausted) {
			metrics.InferenceRequests.WithLabelValues(string(req.Task), "error").Inc()
			log.Error("llm.gateway.error", "error", err, "elapsed_ms", elapsed.Milliseconds())
			return "", err
		}

		metrics.InferenceRequests.WithLabelValues(string(req.Task), "quota").Inc()
		cycles++
		if g.cfg.MaxQuotaCycles > 0 && cycles > g.cfg.MaxQuotaCycles {
			log.Error("llm.gateway.quota_gave_up", "cycles", g.cfg.MaxQuotaCycles)
			return "", fmt.Errorf("%w (%d cycles): %v", ErrQuotaStillExhausted, g.cfg.MaxQuotaCycles, err)
		}
		g.enterCooldown(log, cycles)
	}
}

// enterCooldown opens a shared cooldown window unless one is already running,
// so concurrent callers wait on the same deadline instead of stacking sleeps.
func (g *Gateway) enterCooldown(log *slog.Logger, cycle int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Before(g.cooldownUntil) {
		log.Info("llm.gateway.quota_exhausted", "cycle", cycle, "joined_cooldown", true,
			"resume_in_ms", g.cooldownUntil.Sub(now).Milliseconds())
		return
	}
	log.Warn("llm.gateway.quota_exhausted",
		"cycle", cycle,
		"window_count", g.window.Load(),
		"cooldown", g.cfg.Cooldown.String(),
	)
	g.cooldownUntil = now.Add(g.cfg.Cooldown)
	g.window.Store(0)
	metrics.InferenceWindow.Set(0)
	metrics.QuotaCooldowns.Inc()
}

func (g *Gateway) waitCooldown(ctx context.Context) error {
	g.mu.Lock()
	until := g.cooldownUntil
	g.mu.Unlock()

	d := until.Sub(g.now())
	if d <= 0 {
		return nil
	}
	if err := g.sleep(ctx, d); err != nil {
		return fmt.Errorf("waiting out quota cooldown: %w", err)
	}
	g.logger.Info("llm.gateway.resuming")
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
