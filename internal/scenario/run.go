package scenario

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/factdb"
	"github.com/goliatone/go-query-cache/reactivecache"
)

// Subscriber is the subscriber id the runner watches queries under.
const Subscriber reactivecache.SubscriberID = "scenario"

// Observation is the value of a watch after a step.
type Observation struct {
	Watch   string `yaml:"watch" json:"watch"`
	Changed bool   `yaml:"changed" json:"changed"`
	Value   any    `yaml:"value" json:"value"`
}

// StepReport lists the observations after one step.
type StepReport struct {
	Step         string        `yaml:"step" json:"step"`
	Facts        int           `yaml:"facts" json:"facts"`
	Observations []Observation `yaml:"observations" json:"observations"`
}

// Report is the outcome of a scenario run. The first step report, named
// "seed", holds the values after the graph was loaded.
type Report struct {
	Scenario string       `yaml:"scenario" json:"scenario"`
	Steps    []StepReport `yaml:"steps" json:"steps"`
}

type watched struct {
	watch   Watch
	cell    *cache.Cell
	version uint64
}

// Run seeds conn with the scenario graph, watches its queries through
// engine and commits the steps in order. conn must be attached to engine
// under s.RepoName().
func Run(ctx context.Context, engine *reactivecache.Engine, conn *factdb.Conn, s Scenario) (Report, error) {
	repo := s.RepoName()
	report := Report{Scenario: s.Name}

	seedFacts := 0
	if !s.Graph.Empty() {
		data, err := s.Graph.TxData()
		if err != nil {
			return report, err
		}
		tx, err := conn.Transact(ctx, data, factdb.Metadata{factdb.MetaOrigin: "scenario"})
		if err != nil {
			return report, errors.Wrap(err, "seed graph")
		}
		seedFacts = len(tx.Facts)
	}

	cells := make([]*watched, 0, len(s.Watches))
	for _, w := range s.Watches {
		cell, err := evaluate(ctx, engine, conn.DB(), repo, w)
		if err != nil {
			return report, errors.Wrapf(err, "watch %q", w.Name)
		}
		cells = append(cells, &watched{watch: w, cell: cell, version: cell.Version()})
	}
	report.Steps = append(report.Steps, observe("seed", seedFacts, cells))

	for _, step := range s.Steps {
		facts, err := apply(ctx, engine, conn, repo, step)
		if err != nil {
			return report, errors.Wrapf(err, "step %q", step.Name)
		}
		report.Steps = append(report.Steps, observe(step.Name, facts, cells))
	}
	return report, nil
}

func observe(step string, facts int, cells []*watched) StepReport {
	out := StepReport{Step: step, Facts: facts}
	for _, w := range cells {
		v := w.cell.Version()
		out.Observations = append(out.Observations, Observation{
			Watch:   w.watch.Name,
			Changed: v != w.version,
			Value:   Render(w.cell.Get()),
		})
		w.version = v
	}
	return out
}

func apply(ctx context.Context, engine *reactivecache.Engine, conn *factdb.Conn, repo string, step Step) (int, error) {
	var data []any
	if !step.Graph.Empty() {
		graph, err := step.Graph.TxData()
		if err != nil {
			return 0, err
		}
		data = append(data, graph...)
	}
	for _, a := range step.Set {
		op, err := assertion(conn.DB(), a, factdb.Add)
		if err != nil {
			return 0, err
		}
		data = append(data, op)
	}
	for _, a := range step.Retract {
		op, err := assertion(conn.DB(), a, factdb.Retract)
		if err != nil {
			return 0, err
		}
		data = append(data, op)
	}
	for _, d := range step.Delete {
		ref, err := Ref(d)
		if err != nil {
			return 0, err
		}
		data = append(data, factdb.RetractEntity(ref))
	}

	facts := 0
	if len(data) > 0 {
		tx, err := conn.Transact(ctx, data, factdb.Metadata{factdb.MetaOrigin: "scenario"})
		if err != nil {
			return 0, err
		}
		facts = len(tx.Facts)
	}

	keys := make([]string, 0, len(step.KV))
	for k := range step.KV {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := engine.SetKeyedValue(ctx, repo, k, step.KV[k]); err != nil {
			return 0, err
		}
	}
	return facts, nil
}

func assertion(db *factdb.DB, a Assertion, op func(e any, attr string, v any) factdb.Op) (factdb.Op, error) {
	e, err := Ref(a.Entity)
	if err != nil {
		return factdb.Op{}, err
	}
	v := a.Value
	if s, ok := v.(string); ok && db.Schema().Spec(a.Attr).Ref {
		if v, err = Ref(s); err != nil {
			return factdb.Op{}, err
		}
	}
	return op(e, a.Attr, v), nil
}

func evaluate(ctx context.Context, engine *reactivecache.Engine, db *factdb.DB, repo string, w Watch) (*cache.Cell, error) {
	sub := reactivecache.WithSubscriber(Subscriber)
	switch w.Kind {
	case WatchJournals:
		return engine.Journals(ctx, repo, sub)
	case WatchKV:
		if _, err := engine.GetKeyedValue(ctx, repo, w.Key, sub); err != nil {
			return nil, err
		}
		cell, _ := engine.Lookup(cache.KV(w.Key).In(repo))
		return cell, nil
	case WatchQuery:
		q, err := factdb.ParseQuery(w.Query)
		if err != nil {
			return nil, err
		}
		return engine.Custom(ctx, repo, w.Name, q, sub)
	}

	ref, err := Ref(w.Target)
	if err != nil {
		return nil, err
	}
	if w.Kind == WatchEntity {
		return engine.Entity(ctx, repo, ref, sub)
	}
	ent, ok := db.Entity(ref)
	if !ok {
		return nil, errors.Wrapf(factdb.ErrUnresolved, "target %q", w.Target)
	}
	id := ent.ID()

	switch w.Kind {
	case WatchBlock, WatchBlockAndChildren:
		bid, ok := ent.UUID()
		if !ok {
			return nil, errors.Newf("target %q is not a block", w.Target)
		}
		if w.Kind == WatchBlock {
			return engine.Block(ctx, repo, bid, sub)
		}
		return engine.BlockAndChildren(ctx, repo, bid, sub)
	case WatchBlockRefsCount:
		return engine.BlockRefsCount(ctx, repo, id, sub)
	case WatchPageBlocks:
		return engine.PageBlocks(ctx, repo, id, sub)
	case WatchPageLinks:
		return engine.PageLinks(ctx, repo, id, sub)
	case WatchPageBacklinks:
		return engine.PageBacklinks(ctx, repo, id, sub)
	case WatchReferences:
		return engine.References(ctx, repo, id, sub)
	case WatchUnlinkedRefs:
		return engine.PageUnlinkedRefs(ctx, repo, id, sub)
	case WatchBlockRefIDs:
		return engine.BlockRefIDs(ctx, repo, id, sub)
	}
	return nil, errors.Newf("unknown watch kind %q", w.Kind)
}

// Render turns a cached value into plain data: entities become maps with
// uuids as strings and refs as ids, entity lists are kept in order.
func Render(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case factdb.Entity:
		// a pulled ref is rendered as its id
		if id, ok := x[factdb.AttrID]; ok && len(x) == 1 {
			return Render(id)
		}
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = Render(val)
		}
		return out
	case []factdb.Entity:
		out := make([]any, len(x))
		for i, ent := range x {
			out[i] = Render(ent)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = Render(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = Render(val)
		}
		return out
	case uuid.UUID:
		return x.String()
	case factdb.EID:
		return int64(x)
	case int:
		return int64(x)
	}
	return v
}
