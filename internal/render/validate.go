package render

import (
	"fmt"
	"slices"
	"strings"

	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
)

// Validate checks tpl against every page kind before any rendering work.
// All problems are reported together in one TemplateValidationError.
func (e *Engine) Validate(tpl *Template) error {
	if tpl == nil {
		return foundationerrors.TemplateValidationError("template is nil").Build()
	}
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(tpl.ID) == "" {
		add("template id is empty")
	}
	if strings.TrimSpace(tpl.Version) == "" {
		add("template version is empty")
	}

	segs, err := parseDocument(tpl.Layout.Document)
	if err != nil {
		add("layout document: %v", err)
	}
	inDocument := documentSlots(segs)

	for _, kind := range Kinds {
		page, ok := tpl.Pages[kind]
		if !ok {
			add("%s: page is not defined", kind)
			continue
		}
		declared := tpl.Declared(kind)
		for _, req := range RequiredPlaceholders(kind) {
			if !slices.Contains(declared, req) {
				add("%s: missing required placeholder %q", kind, req)
			}
		}
		if err == nil {
			for _, name := range declared {
				if !inDocument[name] {
					add("%s: placeholder %q has no {{slot:%s}} in the layout document", kind, name, name)
				}
			}
		}
		for _, slot := range sortedKeys(page.Slots) {
			if !slices.Contains(declared, slot) {
				add("%s: slot %q fills an undeclared placeholder", kind, slot)
			}
			for _, node := range page.Slots[slot] {
				e.checkNode(tpl, node, fmt.Sprintf("%s/%s", kind, slot), &problems)
			}
		}
	}

	for _, name := range sortedKeys(tpl.Partials) {
		for _, node := range tpl.Partials[name] {
			e.checkNode(tpl, node, "partial "+name, &problems)
		}
		if cycle := findCycle(tpl, name, nil); cycle != nil {
			add("partial %s: cycle %s", name, strings.Join(cycle, " -> "))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	problems = slices.Compact(problems)
	return foundationerrors.TemplateValidationError(
		fmt.Sprintf("template %s is invalid: %s", tpl.Ref(), strings.Join(problems, "; "))).
		WithContext("template", tpl.Ref()).
		WithContext("problems", problems).
		Build()
}

func (e *Engine) checkNode(tpl *Template, node, where string, problems *[]string) {
	if name, ok := partialName(node); ok {
		if _, exists := tpl.Partials[name]; !exists {
			*problems = append(*problems, fmt.Sprintf("%s: unknown partial %q", where, name))
		}
		return
	}
	if _, ok := e.components[node]; !ok {
		*problems = append(*problems, fmt.Sprintf("%s: unknown component %q", where, node))
	}
}

// findCycle returns the path of a partial reference cycle reachable from
// name, or nil.
func findCycle(tpl *Template, name string, path []string) []string {
	if slices.Contains(path, name) {
		return append(slices.Clone(path), name)
	}
	path = append(path, name)
	for _, node := range tpl.Partials[name] {
		child, ok := partialName(node)
		if !ok {
			continue
		}
		if _, exists := tpl.Partials[child]; !exists {
			continue
		}
		if c := findCycle(tpl, child, path); c != nil {
			return c
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
