package mirror

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"explorer/internal/logging"
)

const portentHistoryCap = 64

// portentRules is the Datalog program behind the forecaster. Scores
// arrive as permille integers so the comparisons stay in plain number
// territory. Every derived advisory is a (kind, severity) pair.
const portentRules = `
Decl stability_permille(V).
Decl certified_count(N).
Decl breath_cycles(N).
Decl phase(P).
Decl novelty_permille(V).
Decl margin_permille(V).
Decl warning(Kind, Severity).
Decl opportunity(Kind, Priority).

warning(/stability_collapse, /high) :- stability_permille(V), :lt(V, 300).
warning(/empty_ledger, /medium) :- certified_count(N), N = 0.
warning(/sovereign_regression, /medium) :- phase(/sovereign), margin_permille(M), :lt(M, 0).
warning(/identity_churn, /low) :- novelty_permille(V), :lt(600, V), breath_cycles(N), :lt(5, N).

opportunity(/first_certification, /high) :- certified_count(N), N = 0.
opportunity(/promotion_window, /medium) :- phase(/genesis), stability_permille(V), :lt(600, V), margin_permille(M), :lt(0, M).
opportunity(/expansion, /low) :- phase(/sovereign), stability_permille(V), :lt(800, V).
`

// advisoryMessages maps derived advisory kinds to operator-facing text.
var advisoryMessages = map[string]string{
	"stability_collapse":   "Stability below regime threshold; intervention may be needed",
	"empty_ledger":         "No certified modules; the ledger is running empty",
	"sovereign_regression": "Aggregate mastery under its own threshold while sovereign",
	"identity_churn":       "Identity novelty stays high well past warmup",
	"first_certification":  "Population ready for its first certifications",
	"promotion_window":     "Mastery margin positive; promotion within reach",
	"expansion":            "Sovereign regime stable enough to absorb new workloads",
}

var severityRank = map[string]int{"high": 0, "medium": 1, "low": 2}

// Advisory is one derived warning or opportunity.
type Advisory struct {
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// ShortTermForecast covers the next few cycles.
type ShortTermForecast struct {
	NextBreathCycle  int    `json:"next_breath_cycle"`
	StabilityTrend   string `json:"stability_trend"`
	GrowthLikelihood string `json:"growth_likelihood"`
}

// MediumTermForecast covers the horizon beyond that.
type MediumTermForecast struct {
	PhaseTransition string `json:"phase_transition"`
	Expansion       string `json:"expansion"`
	Maturity        string `json:"maturity"`
}

// Forecast is one full foresight pass over a snapshot.
type Forecast struct {
	Timestamp     time.Time          `json:"timestamp"`
	CycleID       string             `json:"cycle_id"`
	ShortTerm     ShortTermForecast  `json:"short_term"`
	MediumTerm    MediumTermForecast `json:"medium_term"`
	Warnings      []Advisory         `json:"warnings"`
	Opportunities []Advisory         `json:"opportunities"`
}

// Portent forecasts where the population is heading. The trend fields
// are computed directly; warnings and opportunities are derived by
// evaluating the Datalog rules against facts extracted from the
// snapshot, over a fresh fact store per observation.
type Portent struct {
	mu      sync.Mutex
	dir     string
	info    *analysis.ProgramInfo
	preds   map[string]ast.PredicateSym
	history []Forecast
}

// NewPortent compiles the forecast rules. dir may be empty for an
// in-memory-only mirror.
func NewPortent(dir string) (*Portent, error) {
	unit, err := parse.Unit(bytes.NewReader([]byte(portentRules)))
	if err != nil {
		return nil, fmt.Errorf("parse portent rules: %w", err)
	}
	info, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("analyze portent rules: %w", err)
	}
	preds := make(map[string]ast.PredicateSym, len(info.Decls))
	for sym := range info.Decls {
		preds[sym.Symbol] = sym
	}
	return &Portent{dir: dir, info: info, preds: preds}, nil
}

func (p *Portent) Name() string { return "portent" }

// Observe evaluates the rules for snap and records the forecast.
func (p *Portent) Observe(snap Snapshot) {
	score := stabilityScore(snap)

	store := factstore.NewSimpleInMemoryStore()
	p.addFact(store, "stability_permille", ast.Number(permille(score)))
	p.addFact(store, "certified_count", ast.Number(int64(snap.Certified)))
	p.addFact(store, "breath_cycles", ast.Number(int64(snap.Breath.Cycle)))
	p.addFact(store, "novelty_permille", ast.Number(permille(noveltyRatio(snap))))
	p.addFact(store, "margin_permille", ast.Number(permille(snap.Mastery.Aggregate-snap.Mastery.Threshold)))
	if snap.Phase == "genesis" || snap.Phase == "sovereign" {
		if name, err := ast.Name("/" + snap.Phase); err == nil {
			p.addFact(store, "phase", name)
		}
	}

	var warnings, opportunities []Advisory
	if _, err := mengine.EvalProgramWithStats(p.info, store); err != nil {
		logging.Mirror("Portent evaluation failed for cycle %s: %v", snap.CycleID, err)
	} else {
		warnings = p.collect(store, "warning")
		opportunities = p.collect(store, "opportunity")
	}

	trend := "declining"
	if score > 0.5 {
		trend = "improving"
	}
	growth := "low"
	if snap.Certified > 0 {
		growth = "high"
	}
	transition := "medium"
	if score > 0.8 {
		transition = "high"
	}
	expansion := "uncertain"
	if snap.Certified > 0 {
		expansion = "expected"
	}
	maturity := "distant"
	if score > 0.7 {
		maturity = "approaching"
	}

	forecast := Forecast{
		Timestamp: snap.Timestamp,
		CycleID:   snap.CycleID,
		ShortTerm: ShortTermForecast{
			NextBreathCycle:  snap.Breath.Cycle + 1,
			StabilityTrend:   trend,
			GrowthLikelihood: growth,
		},
		MediumTerm: MediumTermForecast{
			PhaseTransition: transition,
			Expansion:       expansion,
			Maturity:        maturity,
		},
		Warnings:      warnings,
		Opportunities: opportunities,
	}

	p.mu.Lock()
	p.history = append(p.history, forecast)
	if len(p.history) > portentHistoryCap {
		p.history = p.history[len(p.history)-portentHistoryCap:]
	}
	p.mu.Unlock()

	logging.MirrorDebug("Portent cycle=%s warnings=%d opportunities=%d",
		snap.CycleID, len(warnings), len(opportunities))
	p.persist(forecast)
}

// Latest returns the most recent forecast, if any.
func (p *Portent) Latest() (Forecast, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.history) == 0 {
		return Forecast{}, false
	}
	return p.history[len(p.history)-1], true
}

func (p *Portent) addFact(store factstore.SimpleInMemoryStore, pred string, args ...ast.BaseTerm) {
	sym, ok := p.preds[pred]
	if !ok || sym.Arity != len(args) {
		logging.Mirror("Portent fact %s/%d not declared", pred, len(args))
		return
	}
	store.Add(ast.Atom{Predicate: sym, Args: args})
}

func (p *Portent) collect(store factstore.SimpleInMemoryStore, pred string) []Advisory {
	sym, ok := p.preds[pred]
	if !ok {
		return nil
	}
	var out []Advisory
	_ = store.GetFacts(ast.NewQuery(sym), func(a ast.Atom) error {
		if len(a.Args) != 2 {
			return nil
		}
		kind := nameSymbol(a.Args[0])
		severity := nameSymbol(a.Args[1])
		out = append(out, Advisory{
			Kind:     kind,
			Severity: severity,
			Message:  advisoryMessages[kind],
		})
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if severityRank[out[i].Severity] != severityRank[out[j].Severity] {
			return severityRank[out[i].Severity] < severityRank[out[j].Severity]
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

func (p *Portent) persist(forecast Forecast) {
	if p.dir == "" {
		return
	}
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		logging.Mirror("Portent dir %s unavailable: %v", p.dir, err)
		return
	}
	data, err := json.MarshalIndent(forecast, "", "  ")
	if err != nil {
		logging.Mirror("Portent marshal failed: %v", err)
		return
	}
	path := filepath.Join(p.dir, "portent.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		logging.Mirror("Portent write %s failed: %v", path, err)
	}
}

// permille converts a unit-scale value to an integer thousandth.
func permille(v float64) int64 {
	return int64(math.Round(v * 1000))
}

// noveltyRatio is the share of this cycle's modules that produced a
// previously unseen identity.
func noveltyRatio(snap Snapshot) float64 {
	if snap.Modules == 0 {
		return 0
	}
	return float64(snap.NewIdentities) / float64(snap.Modules)
}

// nameSymbol unwraps a name constant like /high to "high".
func nameSymbol(term ast.BaseTerm) string {
	c, ok := term.(ast.Constant)
	if !ok {
		return fmt.Sprintf("%v", term)
	}
	if len(c.Symbol) > 0 && c.Symbol[0] == '/' {
		return c.Symbol[1:]
	}
	return c.Symbol
}
