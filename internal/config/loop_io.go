package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ralphx/ralphx/pkg/apperrors"
)

// LoopsDir returns <projectDir>/.ralphx/loops.
func LoopsDir(projectDir string) string {
	return filepath.Join(projectDir, ".ralphx", "loops")
}

// LoadLoop reads and validates one loop config file by name.
func LoadLoop(projectDir, name string) (*Loop, error) {
	path := filepath.Join(LoopsDir(projectDir), name+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("loop %q not found", name))
		}
		return nil, apperrors.NewInternalErrorWithCause("read loop config", err)
	}

	var l Loop
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("loop %q: invalid YAML: %v", name, err))
	}
	if l.Name == "" {
		l.Name = name
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}

// LoadAllLoops reads every *.yaml file in the project's loops directory,
// validates each individually, then validates the cross-loop source graph.
func LoadAllLoops(projectDir string) (map[string]*Loop, error) {
	dir := LoopsDir(projectDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*Loop{}, nil
		}
		return nil, apperrors.NewInternalErrorWithCause("read loops directory", err)
	}

	loops := make(map[string]*Loop, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".yaml")
		l, err := LoadLoop(projectDir, name)
		if err != nil {
			return nil, err
		}
		loops[l.Name] = l
	}

	if err := ValidateSources(loops); err != nil {
		return nil, err
	}
	return loops, nil
}

// SaveLoop validates then writes a loop config, creating the loops
// directory if necessary. The slug-form name doubles as the filename, so
// name validation also guards against path traversal.
func SaveLoop(projectDir string, l *Loop) error {
	if err := l.Validate(); err != nil {
		return err
	}

	dir := LoopsDir(projectDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.NewInternalErrorWithCause("create loops directory", err)
	}

	data, err := yaml.Marshal(l)
	if err != nil {
		return apperrors.NewInternalErrorWithCause("marshal loop config", err)
	}

	path := filepath.Join(dir, l.Name+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return apperrors.NewInternalErrorWithCause("write loop config", err)
	}
	return nil
}

// DeleteLoop removes a loop's config file. Callers are responsible for
// releasing any claims the loop holds (Store.ReleaseClaimsByLoop) first.
func DeleteLoop(projectDir, name string) error {
	path := filepath.Join(LoopsDir(projectDir), name+".yaml")
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return apperrors.NewNotFoundError(fmt.Sprintf("loop %q not found", name))
		}
		return apperrors.NewInternalErrorWithCause("delete loop config", err)
	}
	return nil
}
