// Package governor runs the certification loop. Each cycle it fans the
// registered workload modules out into sandboxes, projects every outcome
// onto the trait space, scores violation potential against the adaptive
// ideal, and writes the certification verdicts into the kernel ledger.
// After the per-module work the cycle closes with a kernel snapshot, a
// sentinel assessment, and any milestone checkpoints the cycle earned.
//
// Sandbox failures are data, never errors: a module that cannot launch,
// times out, or exits nonzero still produces a trait vector and a VP and
// still reaches the ledger. The only errors RunCycle surfaces are its
// own infrastructure failing (the kernel refusing a snapshot) or the
// caller's context closing.
package governor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"explorer/internal/breath"
	"explorer/internal/checkpoint"
	"explorer/internal/config"
	"explorer/internal/identity"
	"explorer/internal/kernel"
	"explorer/internal/logging"
	"explorer/internal/metrics"
	"explorer/internal/mirror"
	"explorer/internal/sandbox"
	"explorer/internal/sentinel"
	"explorer/internal/stability"
	"explorer/internal/workload"
)

// traitWindowCap bounds the recent-trait history kept for reseeding the
// stability center after a rollback.
const traitWindowCap = 64

// ModuleResult is one module's passage through a cycle.
type ModuleResult struct {
	Module    string              `json:"module"`
	Identity  identity.ID         `json:"identity"`
	New       bool                `json:"new"`
	Traits    metrics.TraitVector `json:"traits"`
	VP        float64             `json:"vp"`
	Certified bool                `json:"certified"`
	Outcome   sandbox.Outcome     `json:"outcome"`
	Err       string              `json:"err,omitempty"`
}

// CycleReport summarizes one completed cycle.
type CycleReport struct {
	CycleID       string           `json:"cycle_id"`
	Cycle         int              `json:"cycle"`
	StartedAt     time.Time        `json:"started_at"`
	Duration      time.Duration    `json:"duration"`
	Results       []ModuleResult   `json:"results"`
	Certified     int              `json:"certified"`
	Failures      int              `json:"failures"`
	NewIdentities int              `json:"new_identities"`
	MeanVP        float64          `json:"mean_vp"`
	Ideal         metrics.Ideal    `json:"ideal"`
	Mastery       sentinel.Mastery `json:"mastery"`
	Phase         sentinel.Phase   `json:"phase"`
	KernelVersion int64            `json:"kernel_version"`
}

// State is the governor's externally visible condition.
type State struct {
	Phase         sentinel.Phase   `json:"phase"`
	Mastery       sentinel.Mastery `json:"mastery"`
	Cycle         int              `json:"cycle"`
	KernelVersion int64            `json:"kernel_version"`
}

// Options wires a governor. Config, Registry, and Kernel are required.
// A nil Pacer falls back to a steady ticker at the configured base
// interval. Breath, Checkpoints, and Hall are optional collaborators;
// leaving them nil disables breath state in reports, checkpointing, and
// mirror publication respectively.
type Options struct {
	Config      *config.Config
	Registry    *workload.Registry
	Kernel      *kernel.Kernel
	Pacer       breath.Pacer
	Breath      *breath.Engine
	Checkpoints *checkpoint.Writer
	Hall        *mirror.Hall
}

// Governor owns one certification loop.
type Governor struct {
	cfg      *config.Config
	registry *workload.Registry
	kern     *kernel.Kernel
	runner   *sandbox.Runner
	center   *stability.Center
	sent     *sentinel.Sentinel
	pacer    breath.Pacer
	breath   *breath.Engine
	cp       *checkpoint.Writer
	hall     *mirror.Hall

	weights   metrics.Weights
	buckets   identity.Buckets
	threshold float64

	// runMu makes cycles and rollbacks mutually exclusive.
	runMu sync.Mutex

	// lastIdentity and traits are only touched while runMu is held.
	lastIdentity map[string]identity.ID
	traits       []metrics.TraitVector

	mu         sync.Mutex
	cycle      int
	lastReport CycleReport
	hasReport  bool
}

// New builds a governor from validated options.
func New(opts Options) (*Governor, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("governor: config is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("governor: workload registry is required")
	}
	if opts.Kernel == nil {
		return nil, fmt.Errorf("governor: kernel is required")
	}
	cfg := opts.Config

	pacer := opts.Pacer
	if pacer == nil {
		pacer = breath.NewSteady(cfg.GetBaseInterval())
	}

	g := &Governor{
		cfg:      cfg,
		registry: opts.Registry,
		kern:     opts.Kernel,
		runner: sandbox.New(sandbox.Config{
			Timeout:        cfg.GetSandboxTimeout(),
			SampleInterval: cfg.GetSampleInterval(),
			MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
			WorkDir:        cfg.Sandbox.WorkDir,
		}),
		center: stability.New(stability.Config{
			Alpha:           cfg.Stability.Alpha,
			FloorDurationMs: cfg.Stability.FloorDurationMs,
			FloorMemoryMB:   cfg.Stability.FloorMemoryMB,
		}),
		sent: sentinel.New(sentinel.Config{
			Window:           cfg.Sentinel.Window,
			MinCycles:        cfg.Sentinel.MinHistory,
			ThresholdFloor:   cfg.Sentinel.ThresholdFloor,
			ThresholdCeiling: cfg.Sentinel.ThresholdCeiling,
		}),
		pacer:  pacer,
		breath: opts.Breath,
		cp:     opts.Checkpoints,
		hall:   opts.Hall,
		weights: metrics.Weights{
			Time:        cfg.VP.TimeWeight,
			Memory:      cfg.VP.MemoryWeight,
			Reliability: cfg.VP.ReliabilityWeight,
		},
		buckets: identity.Buckets{
			DurationMs: cfg.Identity.BucketMs,
			MemoryMB:   cfg.Identity.BucketMB,
		},
		threshold:    cfg.Governor.CertificationThreshold,
		lastIdentity: make(map[string]identity.ID),
	}
	return g, nil
}

// RunCycle executes one full governance cycle: sandbox fan-out, the
// per-module certification pass, a kernel snapshot, and the sentinel
// assessment. It is safe to call concurrently; cycles serialize.
//
// If ctx closes while sandboxes are running, RunCycle returns the
// partial report and the context error without writing anything to the
// kernel.
func (g *Governor) RunCycle(ctx context.Context) (CycleReport, error) {
	g.runMu.Lock()
	defer g.runMu.Unlock()

	g.mu.Lock()
	g.cycle++
	cycle := g.cycle
	g.mu.Unlock()

	cycleID := uuid.NewString()
	started := time.Now()
	modules := g.registry.List()

	log := logging.Get(logging.CategoryGovernor)
	timer := logging.StartTimer(logging.CategoryGovernor, "Cycle")
	logging.Audit().CycleStart(cycleID, len(modules))
	log.Info("cycle %d starting: %d modules, threshold %.3f", cycle, len(modules), g.threshold)

	report := CycleReport{
		CycleID:   cycleID,
		Cycle:     cycle,
		StartedAt: started,
		Results:   make([]ModuleResult, len(modules)),
	}

	// Fan out. Workers never return errors; a failed run is recorded in
	// its Outcome and flows through the same certification path.
	eg, egCtx := errgroup.WithContext(ctx)
	if limit := g.cfg.Governor.MaxConcurrentSandboxes; limit > 0 {
		eg.SetLimit(limit)
	}
	for i, m := range modules {
		i, m := i, m
		report.Results[i] = ModuleResult{Module: m.Name}
		eg.Go(func() error {
			out := g.runner.Run(egCtx, g.registry.Entry(m))
			report.Results[i].Outcome = out
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		logging.GovernorWarn("cycle %d interrupted before certification: %v", cycle, err)
		report.Duration = time.Since(started)
		return report, err
	}

	// Certify sequentially in registry order. Each module is scored
	// against the ideal as it stood when the module's turn came, then
	// its traits advance the ideal for the next.
	ideal := g.center.Ideal()
	var (
		vpSum        float64
		newCertified int
		violations   int
	)
	for i := range report.Results {
		res := &report.Results[i]
		tv, vp := metrics.Observe(res.Outcome, ideal, g.weights)
		ideal = g.center.Update(tv)
		res.Traits = tv
		res.VP = vp
		vpSum += vp

		if !res.Outcome.Succeeded() {
			report.Failures++
		}

		id := identity.Assign(res.Module, tv, g.buckets)
		res.Identity = id
		if prev, ok := g.lastIdentity[res.Module]; ok && prev != id {
			logging.Audit().IdentityDrift(res.Module, string(prev), string(id))
		}
		g.lastIdentity[res.Module] = id

		prev, getErr := g.kern.Get(id)
		res.New = errors.Is(getErr, kernel.ErrNotFound)
		if res.New {
			report.NewIdentities++
		}

		rec, err := g.kern.Certify(id, res.Module, vp, g.threshold)
		if err != nil {
			res.Err = err.Error()
			logging.Audit().Error("kernel", err, false)
			logging.GovernorError("certify %s (%s): %v", res.Module, id, err)
			continue
		}
		res.Certified = rec.Certified
		if rec.Certified {
			report.Certified++
			if res.New {
				newCertified++
			}
		} else if !res.New && prev.Certified {
			violations++
		}

		g.traits = append(g.traits, tv)
		if len(g.traits) > traitWindowCap {
			g.traits = g.traits[len(g.traits)-traitWindowCap:]
		}
	}
	if len(report.Results) > 0 {
		report.MeanVP = vpSum / float64(len(report.Results))
	}
	report.Ideal = ideal

	// Assess mastery, then seal the cycle with a snapshot.
	phaseBefore := g.sent.Phase()
	report.Mastery = g.sent.Assess(sentinel.CycleSample{
		CycleID:       cycleID,
		MeanVP:        report.MeanVP,
		Ideal:         ideal,
		Duration:      time.Since(started),
		NewIdentities: report.NewIdentities,
		TotalModules:  len(modules),
	})
	report.Phase = g.sent.Phase()

	version, err := g.kern.Snapshot(ctx, cycleID, string(report.Phase))
	if err != nil {
		logging.Audit().Error("kernel", err, true)
		logging.GovernorError("cycle %d snapshot failed: %v", cycle, err)
		report.Duration = time.Since(started)
		return report, fmt.Errorf("cycle %d: snapshot: %w", cycle, err)
	}
	report.KernelVersion = version
	report.Duration = time.Since(started)

	if report.Phase != phaseBefore {
		g.writeMilestone(checkpoint.LabelPhaseTransition, report,
			fmt.Sprintf("phase moved from %s to %s after %d cycles", phaseBefore, report.Phase, report.Mastery.Cycles))
	}
	if newCertified > 0 {
		g.writeMilestone(checkpoint.LabelCertification, report,
			fmt.Sprintf("%d new identities certified", newCertified))
	}
	if violations > 0 {
		g.writeMilestone(checkpoint.LabelViolation, report,
			fmt.Sprintf("%d certified identities regressed", violations))
	}
	if g.cp != nil {
		if _, err := g.cp.MaybeRoutine(g.checkpointReport(report, "")); err != nil {
			logging.GovernorWarn("routine checkpoint failed: %v", err)
		}
	}

	logging.Audit().CycleComplete(cycleID, report.Duration.Milliseconds(), report.Certified, len(modules))
	timer.Stop()
	log.Info("cycle %d done: %d/%d certified, %d new, mean VP %.4f, phase %s, version %d",
		cycle, report.Certified, len(modules), report.NewIdentities, report.MeanVP, report.Phase, version)

	g.mu.Lock()
	g.lastReport = report
	g.hasReport = true
	g.mu.Unlock()

	g.publish(report)
	return report, nil
}

// Run loops RunCycle under the pacer until ctx closes. A closed context
// is a clean stop; only kernel failures bubble out as errors.
func (g *Governor) Run(ctx context.Context) error {
	logging.Governor("governor starting: %d modules registered", g.registry.Len())
	g.writeStateMilestone(checkpoint.LabelStartup, "governor started")

	for {
		if _, err := g.RunCycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return err
		}
		if err := g.pacer.WaitForNextTick(ctx); err != nil {
			break
		}
	}

	logging.Governor("governor stopping")
	g.writeStateMilestone(checkpoint.LabelShutdown, "governor stopped")
	return nil
}

// Rollback restores the ledger to an earlier snapshot version and
// realigns the in-memory organs with it: the stability center reseeds
// from recent traits and the sentinel drops to Genesis with cleared
// history. Cycles cannot run while a rollback is in flight.
func (g *Governor) Rollback(ctx context.Context, version int64) error {
	g.runMu.Lock()
	defer g.runMu.Unlock()

	if err := g.kern.Rollback(ctx, version); err != nil {
		return err
	}

	window := make([]metrics.TraitVector, len(g.traits))
	copy(window, g.traits)
	ideal := g.center.Reseed(window)
	g.sent.Reset("rollback")
	logging.Governor("rolled back to version %d: ideal reseeded to {%.1fms %.1fMB}, sentinel reset",
		version, ideal.DurationMs, ideal.MemoryMB)

	g.writeStateMilestone(checkpoint.LabelRollback, fmt.Sprintf("rolled back to version %d", version))
	return nil
}

// State reports the governor's current phase, mastery, cycle count, and
// ledger version.
func (g *Governor) State() State {
	g.mu.Lock()
	cycle := g.cycle
	g.mu.Unlock()
	return State{
		Phase:         g.sent.Phase(),
		Mastery:       g.sent.Mastery(),
		Cycle:         cycle,
		KernelVersion: g.kern.Latest(),
	}
}

// LastReport returns the most recent completed cycle report, if any.
func (g *Governor) LastReport() (CycleReport, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastReport, g.hasReport
}

// checkpointReport shapes a cycle report into a checkpoint.
func (g *Governor) checkpointReport(report CycleReport, note string) checkpoint.Report {
	live := g.kern.Live()
	certified := 0
	for _, rec := range live {
		if rec.Certified {
			certified++
		}
	}
	return checkpoint.Report{
		CycleID:       report.CycleID,
		Cycle:         report.Cycle,
		Phase:         string(report.Phase),
		KernelVersion: report.KernelVersion,
		Live:          len(live),
		Certified:     certified,
		MeanVP:        report.MeanVP,
		Ideal:         report.Ideal,
		Mastery:       report.Mastery,
		Breath:        g.breathState(),
		Note:          note,
	}
}

// writeMilestone records a labeled checkpoint for a cycle-scoped event.
func (g *Governor) writeMilestone(label checkpoint.Label, report CycleReport, note string) {
	if g.cp == nil {
		return
	}
	cp := g.checkpointReport(report, note)
	cp.Label = label
	if err := g.cp.Write(cp); err != nil {
		logging.GovernorWarn("checkpoint %s failed: %v", label, err)
	}
}

// writeStateMilestone records a checkpoint from current state rather
// than from a cycle report, for lifecycle events between cycles.
func (g *Governor) writeStateMilestone(label checkpoint.Label, note string) {
	if g.cp == nil {
		return
	}
	g.mu.Lock()
	report := g.lastReport
	g.mu.Unlock()
	report.Phase = g.sent.Phase()
	report.Mastery = g.sent.Mastery()
	report.KernelVersion = g.kern.Latest()
	report.Ideal = g.center.Ideal()
	g.writeMilestone(label, report, note)
}

// publish hands the cycle to the mirror hall, if one is attached.
func (g *Governor) publish(report CycleReport) {
	if g.hall == nil {
		return
	}
	live := g.kern.Live()
	certified := 0
	for _, rec := range live {
		if rec.Certified {
			certified++
		}
	}
	g.hall.Publish(mirror.Snapshot{
		CycleID:       report.CycleID,
		Cycle:         report.Cycle,
		Phase:         string(report.Phase),
		KernelVersion: report.KernelVersion,
		Live:          live,
		Certified:     certified,
		Modules:       len(report.Results),
		NewIdentities: report.NewIdentities,
		MeanVP:        report.MeanVP,
		Ideal:         report.Ideal,
		Mastery:       report.Mastery,
		Breath:        g.breathState(),
		Timestamp:     time.Now(),
	})
}

func (g *Governor) breathState() breath.State {
	if g.breath == nil {
		return breath.State{}
	}
	return g.breath.State()
}
