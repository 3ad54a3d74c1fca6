package render

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
)

// Source supplies templates by id and version.
type Source interface {
	Get(ctx context.Context, id, version string) (*Template, error)
	// Latest returns the newest version of id.
	Latest(ctx context.Context, id string) (string, error)
}

func templateNotFound(id, version string) error {
	ref := id
	if version != "" {
		ref += "@" + version
	}
	return foundationerrors.NotFoundError("template "+ref+" not found").
		WithContext("template", ref).
		Build()
}

// ParseTemplate decodes a YAML template definition.
func ParseTemplate(data []byte) (*Template, error) {
	var tpl Template
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return nil, foundationerrors.TemplateValidationError("template is not valid YAML").
			WithCause(err).
			Build()
	}
	return &tpl, nil
}

//go:embed builtin/classic.yaml
var classicYAML []byte

// Classic returns a fresh copy of the builtin "classic" template.
func Classic() *Template {
	tpl, err := ParseTemplate(classicYAML)
	if err != nil {
		panic(fmt.Sprintf("builtin template: %v", err))
	}
	return tpl
}

// MemorySource serves templates registered in process. It is used for the
// builtin template and in tests.
type MemorySource struct {
	mu        sync.RWMutex
	templates map[string]map[string]*Template
}

// NewMemorySource returns a source holding templates.
func NewMemorySource(templates ...*Template) *MemorySource {
	s := &MemorySource{templates: make(map[string]map[string]*Template)}
	for _, t := range templates {
		s.Put(t)
	}
	return s
}

// Put registers or replaces a template version.
func (s *MemorySource) Put(t *Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.templates[t.ID] == nil {
		s.templates[t.ID] = make(map[string]*Template)
	}
	s.templates[t.ID][t.Version] = t
}

func (s *MemorySource) Get(_ context.Context, id, version string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id][version]
	if !ok {
		return nil, templateNotFound(id, version)
	}
	return t, nil
}

func (s *MemorySource) Latest(_ context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := make([]string, 0, len(s.templates[id]))
	for v := range s.templates[id] {
		versions = append(versions, v)
	}
	if len(versions) == 0 {
		return "", templateNotFound(id, "")
	}
	return newest(versions), nil
}

// DirSource reads templates laid out as <dir>/<id>/<version>.yaml.
type DirSource struct {
	Dir string
}

func (s DirSource) Get(_ context.Context, id, version string) (*Template, error) {
	if !validName(id) || !validName(version) {
		return nil, templateNotFound(id, version)
	}
	data, err := os.ReadFile(filepath.Join(s.Dir, id, version+".yaml"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, templateNotFound(id, version)
		}
		return nil, foundationerrors.StorageError("read template").WithCause(err).Build()
	}
	tpl, err := ParseTemplate(data)
	if err != nil {
		return nil, err
	}
	if tpl.ID != id || tpl.Version != version {
		return nil, foundationerrors.TemplateValidationError(
			fmt.Sprintf("template file %s/%s.yaml declares %s", id, version, tpl.Ref())).Build()
	}
	return tpl, nil
}

func (s DirSource) Latest(_ context.Context, id string) (string, error) {
	if !validName(id) {
		return "", templateNotFound(id, "")
	}
	entries, err := os.ReadDir(filepath.Join(s.Dir, id))
	if err != nil {
		return "", templateNotFound(id, "")
	}
	var versions []string
	for _, e := range entries {
		if v, ok := strings.CutSuffix(e.Name(), ".yaml"); ok && !e.IsDir() {
			versions = append(versions, v)
		}
	}
	if len(versions) == 0 {
		return "", templateNotFound(id, "")
	}
	return newest(versions), nil
}

// ChainSource consults sources in order; the first one that knows the
// template wins.
type ChainSource []Source

func (c ChainSource) Get(ctx context.Context, id, version string) (*Template, error) {
	for _, s := range c {
		tpl, err := s.Get(ctx, id, version)
		if err == nil {
			return tpl, nil
		}
		if !foundationerrors.HasCategory(err, foundationerrors.CategoryNotFound) {
			return nil, err
		}
	}
	return nil, templateNotFound(id, version)
}

func (c ChainSource) Latest(ctx context.Context, id string) (string, error) {
	for _, s := range c {
		v, err := s.Latest(ctx, id)
		if err == nil {
			return v, nil
		}
	}
	return "", templateNotFound(id, "")
}

func validName(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, `/\`)
}

// newest orders dotted versions numerically where possible ("1.10" > "1.9").
func newest(versions []string) string {
	return slices.MaxFunc(versions, compareVersions)
}

func compareVersions(a, b string) int {
	as := strings.Split(strings.TrimPrefix(a, "v"), ".")
	bs := strings.Split(strings.TrimPrefix(b, "v"), ".")
	for i := 0; i < max(len(as), len(bs)); i++ {
		var x, y string
		if i < len(as) {
			x = as[i]
		}
		if i < len(bs) {
			y = bs[i]
		}
		xi, xerr := strconv.Atoi(x)
		yi, yerr := strconv.Atoi(y)
		if xerr == nil && yerr == nil {
			if xi != yi {
				return xi - yi
			}
			continue
		}
		if c := strings.Compare(x, y); c != 0 {
			return c
		}
	}
	return 0
}
