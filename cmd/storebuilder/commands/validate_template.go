package commands

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/storebuilder/internal/render"
)

// ValidateTemplateCmd implements the 'validate-template' command.
type ValidateTemplateCmd struct {
	Paths []string `arg:"" help:"Template files or directories of <id>/<version>.yaml files" type:"path"`
}

func (v *ValidateTemplateCmd) Run(_ *Global, _ *CLI) error {
	return RunValidateTemplates(v.Paths, os.Stdout)
}

// RunValidateTemplates parses and validates every template found under
// paths, reporting one line per file. It fails if any template is invalid.
func RunValidateTemplates(paths []string, out io.Writer) error {
	files, err := templateFiles(paths)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return foundationerrors.ValidationError("no template files found").Build()
	}
	engine := render.NewEngine(render.NewMemorySource())
	invalid := 0
	for _, path := range files {
		if err := validateTemplateFile(engine, path); err != nil {
			invalid++
			_, _ = fmt.Fprintf(out, "INVALID %s: %v\n", path, err)
			continue
		}
		_, _ = fmt.Fprintf(out, "ok      %s\n", path)
	}
	if invalid > 0 {
		return foundationerrors.TemplateValidationError(fmt.Sprintf("%d of %d templates are invalid", invalid, len(files))).Build()
	}
	return nil
}

func validateTemplateFile(engine *render.Engine, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tpl, err := render.ParseTemplate(data)
	if err != nil {
		return err
	}
	_, err = engine.Compile(tpl)
	return err
}

func templateFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(d.Name(), ".yaml") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
	}
	return files, nil
}
