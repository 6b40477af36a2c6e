package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"explorer/internal/breath"
	"explorer/internal/checkpoint"
	"explorer/internal/config"
	"explorer/internal/governor"
	"explorer/internal/kernel"
	"explorer/internal/mirror"
	"explorer/internal/workload"
)

// system is the fully wired governance stack behind run, cycle, and
// watch. Close tears it down in reverse construction order.
type system struct {
	cfg      *config.Config
	kern     *kernel.Kernel
	registry *workload.Registry
	watcher  *workload.Watcher
	engine   *breath.Engine
	hall     *mirror.Hall
	cp       *checkpoint.Writer
	gov      *governor.Governor
}

// buildSystem assembles the stack from config. The watcher, when
// enabled, is started against ctx so manifest changes apply between
// cycles for the lifetime of the command. Extra observers join the
// mirror hall ahead of its start; watch uses this for its TUI feed.
func buildSystem(ctx context.Context, cfg *config.Config, extra ...mirror.Observer) (*system, error) {
	s := &system{cfg: cfg}

	kern, err := kernel.Open(workspacePath(cfg.Kernel.DatabasePath))
	if err != nil {
		return nil, fmt.Errorf("open kernel: %w", err)
	}
	s.kern = kern

	registry, err := workload.NewRegistry()
	if err != nil {
		s.close()
		return nil, err
	}
	s.registry = registry
	if err := registry.RegisterBuiltins(cfg.Workload.Builtins); err != nil {
		s.close()
		return nil, fmt.Errorf("register builtins: %w", err)
	}
	workloadDir := workspacePath(cfg.Workload.Dir)
	if _, err := registry.LoadDir(workloadDir); err != nil {
		s.close()
		return nil, err
	}
	if cfg.Workload.Watch {
		watcher, err := workload.NewWatcher(workloadDir, registry)
		if err != nil {
			logger.Warn("Manifest watcher unavailable", zap.Error(err))
		} else if err := watcher.Start(ctx); err != nil {
			logger.Warn("Manifest watcher failed to start", zap.Error(err))
		} else {
			s.watcher = watcher
		}
	}

	s.engine = breath.New(breath.Config{
		Base:      cfg.GetBaseInterval(),
		Min:       cfg.GetMinInterval(),
		Max:       cfg.GetMaxInterval(),
		Amplitude: cfg.Breath.Amplitude,
		Period:    cfg.Breath.Period,
	})

	s.cp = checkpoint.NewWriter(workspacePath(cfg.Checkpoint.Dir), cfg.Checkpoint.EveryCycles)

	s.hall = buildHall(cfg, extra...)

	gov, err := governor.New(governor.Options{
		Config:      cfg,
		Registry:    registry,
		Kernel:      kern,
		Pacer:       s.engine,
		Breath:      s.engine,
		Checkpoints: s.cp,
		Hall:        s.hall,
	})
	if err != nil {
		s.close()
		return nil, err
	}
	s.gov = gov
	return s, nil
}

// buildHall attaches the configured mirror observers. A mirror that
// cannot be built is skipped with a warning; reflection is advisory
// and never blocks governance.
func buildHall(cfg *config.Config, extra ...mirror.Observer) *mirror.Hall {
	hall := mirror.NewHall()
	dir := workspacePath(cfg.Mirror.Dir)

	for _, o := range extra {
		hall.Attach(o)
	}

	var portent *mirror.Portent
	if cfg.Mirror.Portent {
		p, err := mirror.NewPortent(dir)
		if err != nil {
			logger.Warn("Portent mirror unavailable", zap.Error(err))
		} else {
			portent = p
			hall.Attach(p)
		}
	}
	if cfg.Mirror.Insight {
		hall.Attach(mirror.NewInsight(dir))
	}
	if cfg.Mirror.Bloom {
		hall.Attach(mirror.NewBloom(dir, portent))
	}
	if cfg.Mirror.Narrator.Enabled {
		n, err := mirror.NewNarrator(cfg.Mirror.Narrator.APIKey, cfg.Mirror.Narrator.Model, dir)
		if err != nil {
			logger.Warn("Narrator mirror unavailable", zap.Error(err))
		} else {
			hall.Attach(n)
		}
	}

	hall.Start()
	return hall
}

func (s *system) close() {
	if s.hall != nil {
		s.hall.Stop()
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.kern != nil {
		if err := s.kern.Close(); err != nil {
			logger.Warn("Kernel close failed", zap.Error(err))
		}
	}
}
