package fulfiller

import "time"

type PlannerConfig struct {
	Backoff1 time.Duration // default: 2 minutes
	Backoff2 time.Duration // default: 5 minutes
	Backoff3 time.Duration // default: 15 minutes
	Backoff4 time.Duration // default: 60 minutes

	// Задержка перед повторной публикацией артефакта: документ уже снят,
	// упала только выгрузка, поэтому ждать долго незачем.
	PublishRetryDelay time.Duration // default: 30 seconds
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Backoff1: 2 * time.Minute,
		Backoff2: 5 * time.Minute,
		Backoff3: 15 * time.Minute,
		Backoff4: 60 * time.Minute,

		PublishRetryDelay: 30 * time.Second,
	}
}

type Planner struct {
	cfg PlannerConfig
}

func NewPlanner(cfg PlannerConfig) *Planner {
	def := DefaultPlannerConfig()
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	if cfg.PublishRetryDelay <= 0 {
		cfg.PublishRetryDelay = def.PublishRetryDelay
	}
	return &Planner{cfg: cfg}
}

func DefaultPlanner() *Planner {
	return NewPlanner(DefaultPlannerConfig())
}

// BackoffDelay — пауза перед следующей автоматической попыткой после
// неудачи номер attempt.
func (p *Planner) BackoffDelay(attempt int32) time.Duration {
	switch {
	case attempt <= 1:
		return p.cfg.Backoff1
	case attempt == 2:
		return p.cfg.Backoff2
	case attempt == 3:
		return p.cfg.Backoff3
	default:
		return p.cfg.Backoff4
	}
}

func (p *Planner) PublishRetryDelay() time.Duration {
	return p.cfg.PublishRetryDelay
}
