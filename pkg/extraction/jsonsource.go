package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/jmespath/go-jmespath"
	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Manifest describes where the JSON dumps of each scope live and how to read them.
//
//	sources:
//	  - family: body_member
//	    scope_id: house-of-councillors
//	    file: dumps/councillors.json
//	    source_url: https://example.jp/members
//	    records: "members[]"
//	    fields:
//	      name: "name"
//	      role: "post"
//	      affiliation: "faction.name"
type Manifest struct {
	Sources []SourceSpec `yaml:"sources"`
}

// SourceSpec is one JSON dump of one scope.
type SourceSpec struct {
	Family    models.Family `yaml:"family"`
	ScopeID   string        `yaml:"scope_id"`
	File      string        `yaml:"file"`
	SourceURL string        `yaml:"source_url"`
	Records   string        `yaml:"records"`
	Fields    FieldSpec     `yaml:"fields"`
}

// FieldSpec holds JMESPath expressions evaluated against each record.
type FieldSpec struct {
	Name        string `yaml:"name"`
	Role        string `yaml:"role"`
	Affiliation string `yaml:"affiliation"`
	SourceURL   string `yaml:"source_url"`
}

// JSONFileSource reads candidates from JSON files listed in a manifest.
type JSONFileSource struct {
	baseDir  string
	specs    map[models.Family][]SourceSpec
	mu       sync.RWMutex
	compiled map[string]*jmespath.JMESPath
}

// LoadJSONFileSource parses the manifest at path. Relative file paths resolve
// against the manifest's directory.
func LoadJSONFileSource(path string) (*JSONFileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source manifest: %w", err)
	}
	return ParseManifest(data, filepath.Dir(path))
}

// ParseManifest builds a source from manifest YAML.
func ParseManifest(data []byte, baseDir string) (*JSONFileSource, error) {
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse source manifest: %w", err)
	}

	src := &JSONFileSource{
		baseDir:  baseDir,
		specs:    map[models.Family][]SourceSpec{},
		compiled: map[string]*jmespath.JMESPath{},
	}

	for i, spec := range manifest.Sources {
		if _, err := models.ParseFamily(string(spec.Family)); err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}
		if spec.ScopeID == "" || spec.File == "" {
			return nil, fmt.Errorf("source %d: scope_id and file are required", i)
		}
		if spec.Records == "" {
			spec.Records = "@"
		}
		if spec.Fields.Name == "" {
			spec.Fields.Name = "name"
		}
		for _, expr := range []string{spec.Records, spec.Fields.Name, spec.Fields.Role, spec.Fields.Affiliation, spec.Fields.SourceURL} {
			if expr == "" {
				continue
			}
			if _, err := src.expression(expr); err != nil {
				return nil, fmt.Errorf("source %d: invalid expression %q: %w", i, expr, err)
			}
		}
		src.specs[spec.Family] = append(src.specs[spec.Family], spec)
	}

	return src, nil
}

func (s *JSONFileSource) expression(expr string) (*jmespath.JMESPath, error) {
	s.mu.RLock()
	if compiled, ok := s.compiled[expr]; ok {
		s.mu.RUnlock()
		return compiled, nil
	}
	s.mu.RUnlock()

	compiled, err := jmespath.Compile(expr)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.compiled[expr] = compiled
	s.mu.Unlock()
	return compiled, nil
}

// Scopes lists the scopes with at least one file for family, sorted.
func (s *JSONFileSource) Scopes(_ context.Context, family models.Family) ([]string, error) {
	set := map[string]struct{}{}
	for _, spec := range s.specs[family] {
		set[spec.ScopeID] = struct{}{}
	}
	scopes := make([]string, 0, len(set))
	for id := range set {
		scopes = append(scopes, id)
	}
	sort.Strings(scopes)
	return scopes, nil
}

// Fetch reads every file of the scope and maps its records to raw candidates.
func (s *JSONFileSource) Fetch(ctx context.Context, family models.Family, scopeID string) ([]RawCandidate, error) {
	var out []RawCandidate
	found := false
	for _, spec := range s.specs[family] {
		if spec.ScopeID != scopeID {
			continue
		}
		found = true
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raws, err := s.read(spec)
		if err != nil {
			return nil, err
		}
		out = append(out, raws...)
	}
	if !found {
		return nil, fmt.Errorf("no source configured for %s scope %s", family, scopeID)
	}
	return out, nil
}

func (s *JSONFileSource) read(spec SourceSpec) ([]RawCandidate, error) {
	path := spec.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.baseDir, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	records, err := s.search(spec.Records, doc)
	if err != nil {
		return nil, err
	}
	items, ok := records.([]any)
	if !ok {
		return nil, fmt.Errorf("records expression %q did not yield a list in %s", spec.Records, path)
	}

	info, _ := os.Stat(path)
	raws := make([]RawCandidate, 0, len(items))
	for _, item := range items {
		raw := RawCandidate{
			ScopeID:   spec.ScopeID,
			SourceURL: spec.SourceURL,
		}
		if info != nil {
			raw.ExtractedAt = info.ModTime().UTC()
		}
		if raw.Name, err = s.searchString(spec.Fields.Name, item); err != nil {
			return nil, err
		}
		if raw.Role, err = s.searchString(spec.Fields.Role, item); err != nil {
			return nil, err
		}
		affiliation, err := s.searchString(spec.Fields.Affiliation, item)
		if err != nil {
			return nil, err
		}
		if affiliation != "" {
			raw.Affiliation = &affiliation
		}
		if url, err := s.searchString(spec.Fields.SourceURL, item); err != nil {
			return nil, err
		} else if url != "" {
			raw.SourceURL = url
		}
		raws = append(raws, raw)
	}

	return raws, nil
}

func (s *JSONFileSource) search(expr string, data any) (any, error) {
	compiled, err := s.expression(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expr, err)
	}
	result, err := compiled.Search(data)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", expr, err)
	}
	return result, nil
}

func (s *JSONFileSource) searchString(expr string, data any) (string, error) {
	if expr == "" {
		return "", nil
	}
	result, err := s.search(expr, data)
	if err != nil || result == nil {
		return "", err
	}
	if str, ok := result.(string); ok {
		return str, nil
	}
	return fmt.Sprintf("%v", result), nil
}
