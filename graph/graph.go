// Package graph builds a flow DAG from a declarative YAML description:
// flows constructed by factory name through the registry, connections
// validated for slot bounds, acyclicity, and data-type compatibility, then
// wired sink-side-first so sources stay gated until their consumers exist.
package graph

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v2"

	"github.com/zsiec/mediaflow/flow"
	"github.com/zsiec/mediaflow/param"
	"github.com/zsiec/mediaflow/registry"
)

// flowSpec describes one node of the graph.
type flowSpec struct {
	Name   string            `yaml:"name"`
	Kind   string            `yaml:"kind"`
	Params map[string]string `yaml:"params"`
}

// connSpec describes one edge, endpoints spelled "flow:slot".
type connSpec struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

type graphSpec struct {
	Flows       []flowSpec `yaml:"flows"`
	Connections []connSpec `yaml:"connections"`
}

// node pairs the constructed instance with its runtime core.
type node struct {
	name  string
	kind  string
	inst  any
	core  *flow.Flow
	depth int
}

type edge struct {
	from, to        *node
	outSlot, inSlot int
}

// Graph is a wired flow DAG.
type Graph struct {
	log   *slog.Logger
	nodes map[string]*node
	edges []edge

	closeOnce sync.Once
	closeErr  error
}

// Load parses a YAML graph description from r, constructs every flow
// through reg, validates the topology, and wires the connections. On any
// error the already-constructed flows are stopped before returning.
func Load(r io.Reader, reg *registry.Registry, log *slog.Logger) (*Graph, error) {
	if log == nil {
		log = slog.Default()
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("graph: read description: %w", err)
	}
	var desc graphSpec
	if err := yaml.Unmarshal(raw, &desc); err != nil {
		return nil, fmt.Errorf("graph: parse description: %w", err)
	}
	if len(desc.Flows) == 0 {
		return nil, fmt.Errorf("graph: description names no flows")
	}

	g := &Graph{log: log.With("component", "graph"), nodes: make(map[string]*node)}

	fail := func(err error) (*Graph, error) {
		g.stopAll()
		return nil, err
	}

	for _, fs := range desc.Flows {
		if fs.Name == "" || fs.Kind == "" {
			return fail(fmt.Errorf("graph: flow needs name and kind: %+v", fs))
		}
		if _, dup := g.nodes[fs.Name]; dup {
			return fail(fmt.Errorf("graph: duplicate flow name %q", fs.Name))
		}
		var pb param.Builder
		for k, v := range fs.Params {
			pb.Set(k, v)
		}
		inst, err := reg.Create(registry.KindFlow, fs.Kind, pb.String())
		if err != nil {
			return fail(fmt.Errorf("graph: flow %q: %w", fs.Name, err))
		}
		core, ok := inst.(interface{ Core() *flow.Flow })
		if !ok {
			return fail(fmt.Errorf("graph: flow %q (%s) is not a runtime flow", fs.Name, fs.Kind))
		}
		g.nodes[fs.Name] = &node{name: fs.Name, kind: fs.Kind, inst: inst, core: core.Core()}
		g.log.Debug("flow constructed", "name", fs.Name, "kind", fs.Kind)
	}

	for _, cs := range desc.Connections {
		fromName, outSlot, err := splitEndpoint(cs.From)
		if err != nil {
			return fail(fmt.Errorf("graph: connection from %q: %w", cs.From, err))
		}
		toName, inSlot, err := splitEndpoint(cs.To)
		if err != nil {
			return fail(fmt.Errorf("graph: connection to %q: %w", cs.To, err))
		}
		from, ok := g.nodes[fromName]
		if !ok {
			return fail(fmt.Errorf("graph: connection from unknown flow %q", fromName))
		}
		to, ok := g.nodes[toName]
		if !ok {
			return fail(fmt.Errorf("graph: connection to unknown flow %q", toName))
		}
		if err := g.checkCompatible(reg, from, to); err != nil {
			return fail(err)
		}
		g.edges = append(g.edges, edge{from: from, to: to, outSlot: outSlot, inSlot: inSlot})
	}

	if err := g.computeDepths(); err != nil {
		return fail(err)
	}

	// Wire consumer-side edges before producer-side ones: a source's gate
	// only opens once the stages that will absorb its output are attached.
	sorted := make([]edge, len(g.edges))
	copy(sorted, g.edges)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].from.depth > sorted[j].from.depth
	})
	for _, e := range sorted {
		if err := e.from.core.AddDownFlow(e.to.core, e.outSlot, e.inSlot); err != nil {
			return fail(fmt.Errorf("graph: wire %s→%s: %w", e.from.name, e.to.name, err))
		}
	}
	g.log.Info("graph wired", "flows", len(g.nodes), "connections", len(g.edges))
	return g, nil
}

// splitEndpoint parses "flow:slot"; a bare flow name means slot 0.
func splitEndpoint(s string) (name string, slot int, err error) {
	name, slotStr, ok := strings.Cut(s, ":")
	if name == "" {
		return "", 0, fmt.Errorf("empty flow name")
	}
	if !ok || slotStr == "" {
		return name, 0, nil
	}
	slot, err = strconv.Atoi(slotStr)
	if err != nil || slot < 0 {
		return "", 0, fmt.Errorf("bad slot %q", slotStr)
	}
	return name, slot, nil
}

// checkCompatible applies the data-type capability rule when both factory
// matchers exist: the producer's output tags must intersect the consumer's
// input tags.
func (g *Graph) checkCompatible(reg *registry.Registry, from, to *node) error {
	if !reg.HasMatcher(registry.KindFlow, from.kind) || !reg.HasMatcher(registry.KindFlow, to.kind) {
		return nil
	}
	probe := func(kind string, key string, tags string) bool {
		var pb param.Builder
		pb.Set(key, tags)
		return reg.IsMatch(registry.KindFlow, kind, pb.String())
	}
	// Ask the consumer which tag classes it accepts by testing the
	// producer's advertised outputs.
	for _, tag := range knownTags {
		if probe(from.kind, param.KeyOutputDataType, tag) && probe(to.kind, param.KeyInputDataType, tag) {
			return nil
		}
	}
	return fmt.Errorf("graph: %s (%s) output is not accepted by %s (%s)",
		from.name, from.kind, to.name, to.kind)
}

// knownTags is the data-type tag vocabulary the capability check probes.
var knownTags = []string{
	"audio:pcm_u8", "audio:pcm_s16", "audio:pcm_s32", "audio:pcm_flt",
	"audio:vorbis", "audio:aac",
	"image:nv12", "image:nv16", "image:yuv420p",
	"image:rgb24", "image:bgr24", "image:rgb32", "image:bgr32",
	"image:jpeg", "image:h264", "image:h265",
}

// computeDepths assigns each node its longest distance from a source and
// rejects cycles.
func (g *Graph) computeDepths() error {
	indeg := make(map[*node]int)
	succ := make(map[*node][]*node)
	for _, n := range g.nodes {
		indeg[n] = 0
	}
	for _, e := range g.edges {
		succ[e.from] = append(succ[e.from], e.to)
		indeg[e.to]++
	}
	var queue []*node
	for n, d := range indeg {
		if d == 0 {
			queue = append(queue, n)
		}
	}
	visited := 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		visited++
		for _, s := range succ[n] {
			if s.depth < n.depth+1 {
				s.depth = n.depth + 1
			}
			indeg[s]--
			if indeg[s] == 0 {
				queue = append(queue, s)
			}
		}
	}
	if visited != len(g.nodes) {
		return fmt.Errorf("graph: description contains a cycle")
	}
	return nil
}

// Flow returns the named runtime flow, or nil.
func (g *Graph) Flow(name string) *flow.Flow {
	n, ok := g.nodes[name]
	if !ok {
		return nil
	}
	return n.core
}

// Instance returns the named constructed instance (the concrete flow
// type), or nil.
func (g *Graph) Instance(name string) any {
	n, ok := g.nodes[name]
	if !ok {
		return nil
	}
	return n.inst
}

// Close tears the graph down, stopping flows downstream-first: nodes at
// the same depth stop concurrently, deeper levels before shallower ones.
// Idempotent.
func (g *Graph) Close() error {
	g.closeOnce.Do(func() { g.closeErr = g.stopAll() })
	return g.closeErr
}

func (g *Graph) stopAll() error {
	byDepth := make(map[int][]*node)
	maxDepth := 0
	for _, n := range g.nodes {
		byDepth[n.depth] = append(byDepth[n.depth], n)
		if n.depth > maxDepth {
			maxDepth = n.depth
		}
	}
	var firstErr error
	for d := maxDepth; d >= 0; d-- {
		var eg errgroup.Group
		for _, n := range byDepth[d] {
			n := n
			eg.Go(func() error {
				if c, ok := n.inst.(io.Closer); ok {
					return c.Close()
				}
				n.core.StopAllThreads()
				return nil
			})
		}
		if err := eg.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	g.log.Info("graph stopped")
	return firstErr
}
