package render

import (
	"context"

	"git.home.luguber.info/inful/storebuilder/internal/cache"
)

// Plan is a validated template flattened into a document skeleton and, per
// page kind, the ordered components that fill each slot. Plans are immutable
// and shared between jobs through the template cache tier.
type Plan struct {
	Ref      string
	segments []segment
	slots    map[PageKind]map[string][]string
}

// Compile validates tpl and resolves partials into flat component lists.
func (e *Engine) Compile(tpl *Template) (*Plan, error) {
	if err := e.Validate(tpl); err != nil {
		return nil, err
	}
	segs, _ := parseDocument(tpl.Layout.Document)
	plan := &Plan{
		Ref:      tpl.Ref(),
		segments: segs,
		slots:    make(map[PageKind]map[string][]string, len(Kinds)),
	}
	for _, kind := range Kinds {
		page := tpl.Pages[kind]
		filled := make(map[string][]string, len(page.Slots))
		for slot, nodes := range page.Slots {
			filled[slot] = flatten(tpl, nodes, nil)
		}
		plan.slots[kind] = filled
	}
	return plan, nil
}

// flatten expands partial references depth first. Validation has already
// ruled out cycles and unknown references.
func flatten(tpl *Template, nodes []string, out []string) []string {
	for _, node := range nodes {
		if name, ok := partialName(node); ok {
			out = flatten(tpl, tpl.Partials[name], out)
			continue
		}
		out = append(out, node)
	}
	return out
}

// Components returns the flattened component list of one slot.
func (p *Plan) Components(kind PageKind, slot string) []string {
	return p.slots[kind][slot]
}

// Load fetches and compiles a template through the template tier, keyed by
// id@version. Concurrent loads of the same version compile once.
func (e *Engine) Load(ctx context.Context, id, version string) (*Plan, error) {
	if version == "" {
		v, err := e.source.Latest(ctx, id)
		if err != nil {
			return nil, err
		}
		version = v
	}
	load := func(ctx context.Context) (*Plan, error) {
		tpl, err := e.source.Get(ctx, id, version)
		if err != nil {
			return nil, err
		}
		return e.Compile(tpl)
	}
	if e.tier == nil {
		return load(ctx)
	}
	plan, _, err := e.tier.GetOrLoad(ctx, cache.VersionedKey(id, version), load)
	return plan, err
}
