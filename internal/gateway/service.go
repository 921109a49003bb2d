// Package gateway runs one inference request through the admission chain:
// blocklist, API key, prompt validation, quota, upstream call, accounting
// and notification.
package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/wanz-bot/Api/internal/ledger"
	"github.com/wanz-bot/Api/internal/models"
	"github.com/wanz-bot/Api/internal/moderation"
	"github.com/wanz-bot/Api/internal/notify"
	"github.com/wanz-bot/Api/internal/providers"
	"github.com/wanz-bot/Api/internal/utils"
)

// DefaultModel is used when neither the request nor the config names one.
const DefaultModel = "llama-3.1-8b-instruct"

// KeyResolver maps an API key to its account.
type KeyResolver interface {
	ResolveByAPIKey(ctx context.Context, apiKey string) (*models.Account, error)
}

// Publisher receives usage events after a successful call.
type Publisher interface {
	Publish(ctx context.Context, e notify.UsageEvent)
}

// Archiver stores activity entries before they are bulk deleted.
type Archiver interface {
	Archive(ctx context.Context, entries []models.ActivityLogEntry) error
}

// Config controls which admission checks run.
type Config struct {
	RequireAPIKey    bool
	BlocklistEnabled bool
	DefaultModel     string
	Timeout          time.Duration
}

// Request is one inference call as seen by the gateway.
type Request struct {
	APIKey string
	IP     string
	Model  string
	Prompt string
}

// Result carries the provider's JSON body back to the client unchanged.
type Result struct {
	Body       []byte
	Model      string
	TokenCount int
	UsedToday  int
	DailyLimit int
	Latency    time.Duration
}

// Dependencies holds the collaborators of a Service. Publisher and Archiver
// are optional.
type Dependencies struct {
	Keys      KeyResolver
	Ledger    *ledger.Ledger
	Blocklist *moderation.Blocklist
	Activity  *moderation.ActivityLog
	Provider  providers.Provider
	Publisher Publisher
	Archiver  Archiver
}

type Service struct {
	deps   Dependencies
	cfg    Config
	logger *utils.Logger
	now    func() time.Time
}

func NewService(deps Dependencies, cfg Config) *Service {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Service{
		deps:   deps,
		cfg:    cfg,
		logger: utils.NewLogger("gateway"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// HandleRequest runs the admission chain and the upstream call. Checks run
// in a fixed order so a blocked IP never reaches key resolution and a
// rejected call never reaches the provider.
func (s *Service) HandleRequest(ctx context.Context, req Request) (*Result, error) {
	account, err := s.Authorize(ctx, req.IP, req.APIKey)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(req.Prompt) == "" {
		return nil, models.Errorf(models.ErrBadRequest, "missing prompt")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = s.cfg.DefaultModel
	}

	var adm *ledger.Admission
	if account != nil {
		a, err := s.deps.Ledger.CheckAndAdmit(ctx, account.APIKey, account.DailyLimit)
		if err != nil {
			return nil, err
		}
		adm = a
	}

	resp, err := s.callProvider(ctx, model, req.Prompt)
	if err != nil {
		if adm != nil {
			// the caller may have gone away; the reservation still has to be returned
			if relErr := s.deps.Ledger.Release(context.WithoutCancel(ctx), adm); relErr != nil {
				s.logger.Error("Failed to release admission", "api_key", adm.APIKey, "error", relErr)
			}
		}
		return nil, err
	}

	result := &Result{
		Body:       resp.Body,
		Model:      model,
		TokenCount: resp.TokenCount,
		Latency:    resp.ProviderLatency,
	}

	if adm != nil {
		rec, err := s.deps.Ledger.RecordUsage(context.WithoutCancel(ctx), adm, model, resp.TokenCount)
		if err != nil {
			s.logger.Error("Failed to record usage", "api_key", adm.APIKey, "error", err)
			result.UsedToday = adm.UsedToday
		} else {
			result.UsedToday = rec.UsedToday
		}
		result.DailyLimit = adm.Limit
	}

	if _, err := s.deps.Activity.Append(context.WithoutCancel(ctx), req.IP, model, req.Prompt); err != nil {
		s.logger.Warn("Failed to append activity", "ip", req.IP, "error", err)
	}

	if s.deps.Publisher != nil {
		s.deps.Publisher.Publish(ctx, notify.UsageEvent{
			IP:        req.IP,
			Model:     model,
			Prompt:    req.Prompt,
			Timestamp: s.now(),
		})
	}

	return result, nil
}

// Authorize runs the blocklist and API key checks, in that order. The
// account is nil when keys are not required.
func (s *Service) Authorize(ctx context.Context, ip, apiKey string) (*models.Account, error) {
	if s.cfg.BlocklistEnabled {
		blocked, err := s.deps.Blocklist.IsBlocked(ctx, ip)
		if err != nil {
			return nil, err
		}
		if blocked {
			return nil, models.Errorf(models.ErrForbidden, "your IP is blocked")
		}
	}

	if !s.cfg.RequireAPIKey {
		return nil, nil
	}
	if apiKey == "" {
		return nil, models.Errorf(models.ErrBadRequest, "missing api key")
	}
	acc, err := s.deps.Keys.ResolveByAPIKey(ctx, apiKey)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.Errorf(models.ErrForbidden, "invalid api key")
	}
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func (s *Service) callProvider(ctx context.Context, model, prompt string) (*providers.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	resp, err := s.deps.Provider.Run(callCtx, providers.Request{Model: model, Prompt: prompt})
	if err == nil {
		return resp, nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		s.logger.Warn("Inference timed out", "model", model, "timeout", s.cfg.Timeout)
		return nil, models.Errorf(models.ErrUpstreamTimeout, "inference timed out after %s", s.cfg.Timeout)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		s.logger.Error("Inference failed", "model", model, "error", err)
		return nil, models.Errorf(models.ErrUpstreamError, "inference failed: %v", err)
	}
}
