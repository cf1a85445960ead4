package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/logsentinel/logsentinel/internal/types"
)

// LoadDir reads every *.yaml and *.yml file in dir as a rule body and
// returns the records to seed a rule repository with. A rule without a
// name takes the file name without extension. Files that fail to parse
// are reported in the returned error; the others are still returned.
func LoadDir(dir string) ([]*types.RuleRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read rules dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []*types.RuleRecord
	var errs []string
	for _, name := range names {
		body, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		rec, err := Record(body, strings.TrimSuffix(name, filepath.Ext(name)))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		out = append(out, rec)
	}
	if len(errs) > 0 {
		return out, fmt.Errorf("load rules: %s", strings.Join(errs, "; "))
	}
	return out, nil
}

// Record validates body and wraps it in a RuleRecord. fallbackName is used
// when the body has no name.
func Record(body []byte, fallbackName string) (*types.RuleRecord, error) {
	d, err := Parse(body)
	if err != nil {
		return nil, err
	}
	if _, err := Compile(d); err != nil {
		return nil, err
	}
	name := d.Name
	if name == "" {
		name = fallbackName
	}
	if name == "" {
		return nil, fmt.Errorf("rule has no name")
	}
	return &types.RuleRecord{
		Name:        name,
		Description: d.Description,
		Severity:    d.Severity,
		Body:        string(body),
		Enabled:     d.IsEnabled(),
	}, nil
}
