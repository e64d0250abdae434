// Package persona loads agent personas: markdown files with an optional YAML
// front-matter header. Files are read fresh on every call.
package persona

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/R0m1k3/n8ngest/internal/logging"
)

const ext = ".md"

type Persona struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata"`
}

// DirFunc yields the persona directory; it is resolved on every call.
type DirFunc func(ctx context.Context) string

// Dir returns a DirFunc for a fixed path.
func Dir(path string) DirFunc {
	return func(context.Context) string { return path }
}

type Loader struct {
	dir DirFunc
	log *zap.Logger
}

func NewLoader(dir DirFunc, log *zap.Logger) *Loader {
	return &Loader{dir: dir, log: logging.OrNop(log)}
}

// List reads every *.md file in the directory, sorted by id. A missing
// directory yields an empty list.
func (l *Loader) List(ctx context.Context) ([]Persona, error) {
	dir := l.dir(ctx)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		l.log.Warn("persona directory not found", zap.String("dir", dir))
		return []Persona{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read persona dir: %w", err)
	}

	out := []Persona{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		p, err := readPersona(filepath.Join(dir, e.Name()), e.Name())
		if err != nil {
			l.log.Warn("skipping persona", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get loads a single persona by id (its filename). Absence is (nil, nil).
func (l *Loader) Get(ctx context.Context, id string) (*Persona, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return nil, nil
	}
	dir := l.dir(ctx)
	candidates := []string{id}
	if !strings.HasSuffix(id, ext) {
		candidates = append(candidates, id+ext)
	}
	for _, name := range candidates {
		p, err := readPersona(filepath.Join(dir, name), name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &p, nil
	}
	return nil, nil
}

func readPersona(path, id string) (Persona, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, err
	}
	meta, body, err := Parse(b)
	if err != nil {
		return Persona{}, fmt.Errorf("%s: %w", id, err)
	}
	p := Persona{
		ID:       id,
		Name:     strings.TrimSuffix(id, ext),
		Content:  body,
		Metadata: meta,
	}
	if name, ok := meta["name"].(string); ok && strings.TrimSpace(name) != "" {
		p.Name = name
	}
	if desc, ok := meta["description"].(string); ok {
		p.Description = desc
	}
	return p, nil
}

// Parse splits a document into its YAML front-matter and body. A document
// without a leading "---" line has empty metadata and is all body.
func Parse(b []byte) (map[string]any, string, error) {
	b = bytes.TrimPrefix(b, []byte("\ufeff"))
	text := strings.ReplaceAll(string(b), "\r\n", "\n")
	meta := map[string]any{}

	if !strings.HasPrefix(text, "---\n") {
		return meta, text, nil
	}
	rest := text[len("---\n"):]
	header, body, found := cutFence(rest)
	if !found {
		return meta, text, nil
	}
	if strings.TrimSpace(header) != "" {
		if err := yaml.Unmarshal([]byte(header), &meta); err != nil {
			return nil, "", fmt.Errorf("front-matter: %w", err)
		}
		if meta == nil {
			meta = map[string]any{}
		}
	}
	return meta, strings.TrimPrefix(body, "\n"), nil
}

// cutFence finds the closing "---" line.
func cutFence(s string) (header, body string, found bool) {
	if strings.HasPrefix(s, "---\n") || s == "---" {
		return "", strings.TrimPrefix(strings.TrimPrefix(s, "---"), "\n"), true
	}
	idx := strings.Index(s, "\n---\n")
	if idx >= 0 {
		return s[:idx], s[idx+len("\n---\n"):], true
	}
	if strings.HasSuffix(s, "\n---") {
		return strings.TrimSuffix(s, "\n---"), "", true
	}
	return "", "", false
}
