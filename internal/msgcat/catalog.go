// Package msgcat holds the user-facing strings of the session (outcome
// descriptions, chat notifications) as text/template snippets in YAML.
package msgcat

import (
    "embed"
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "sync"
    "text/template"

    yaml "gopkg.in/yaml.v3"
)

//go:embed messages.en.yaml
var embedded embed.FS

const defaultFile = "messages.en.yaml"

// Catalog maps dotted keys (outcome.checkmate) to parsed templates.
type Catalog struct {
    mu     sync.RWMutex
    tpls   map[string]*template.Template
    origin map[string]string // key -> file that defined it
}

// New loads the embedded English messages, then every *.yaml / *.yml file in
// overrideDir (if set). Override files may not redefine each other's keys.
func New(overrideDir string) (*Catalog, error) {
    c := &Catalog{tpls: make(map[string]*template.Template), origin: make(map[string]string)}
    raw, err := embedded.ReadFile(defaultFile)
    if err != nil { return nil, fmt.Errorf("read embedded messages: %w", err) }
    if err := c.load(defaultFile, raw, false); err != nil { return nil, err }

    dir := strings.TrimSpace(overrideDir)
    if dir == "" { return c, nil }
    entries, err := os.ReadDir(dir)
    if err != nil { return nil, fmt.Errorf("read messages dir: %w", err) }
    var names []string
    for _, e := range entries {
        if e.IsDir() { continue }
        switch strings.ToLower(filepath.Ext(e.Name())) {
        case ".yaml", ".yml":
            names = append(names, e.Name())
        }
    }
    sort.Strings(names)
    for _, n := range names {
        b, err := os.ReadFile(filepath.Join(dir, n))
        if err != nil { return nil, fmt.Errorf("read %s: %w", n, err) }
        if err := c.load(n, b, true); err != nil { return nil, err }
    }
    return c, nil
}

func (c *Catalog) load(name string, b []byte, override bool) error {
    var doc map[string]any
    if err := yaml.Unmarshal(b, &doc); err != nil { return fmt.Errorf("parse %s: %w", name, err) }
    flat := map[string]string{}
    if err := flatten(doc, "", flat); err != nil { return fmt.Errorf("parse %s: %w", name, err) }

    parsed := make(map[string]*template.Template, len(flat))
    for k, v := range flat {
        t, err := template.New(k).Option("missingkey=error").Parse(v)
        if err != nil { return fmt.Errorf("%s: template %s: %w", name, k, err) }
        parsed[k] = t
    }

    c.mu.Lock()
    defer c.mu.Unlock()
    for k, t := range parsed {
        if prev, ok := c.origin[k]; ok && override && prev != defaultFile {
            return fmt.Errorf("duplicate message key %q in %s and %s", k, prev, name)
        }
        c.tpls[k] = t
        c.origin[k] = name
    }
    return nil
}

func flatten(node any, prefix string, out map[string]string) error {
    switch v := node.(type) {
    case map[string]any:
        for k, child := range v {
            key := k
            if prefix != "" { key = prefix + "." + k }
            if err := flatten(child, key, out); err != nil { return err }
        }
    case string:
        if prefix == "" { return fmt.Errorf("top-level string without key") }
        out[prefix] = v
    case nil:
    default:
        return fmt.Errorf("key %s: expected string, got %T", prefix, v)
    }
    return nil
}

// Render executes the template stored under key.
func (c *Catalog) Render(key string, data any) (string, error) {
    c.mu.RLock()
    t, ok := c.tpls[strings.TrimSpace(key)]
    c.mu.RUnlock()
    if !ok { return "", fmt.Errorf("message not found: %s", key) }
    var b strings.Builder
    if err := t.Execute(&b, data); err != nil { return "", err }
    return b.String(), nil
}

// Text renders key, returning fallback when the key is missing or fails to
// render. A nil catalog always yields the fallback.
func (c *Catalog) Text(key string, data any, fallback string) string {
    if c == nil { return fallback }
    out, err := c.Render(key, data)
    if err != nil || strings.TrimSpace(out) == "" { return fallback }
    return out
}

// Keys returns the loaded keys in sorted order.
func (c *Catalog) Keys() []string {
    c.mu.RLock()
    defer c.mu.RUnlock()
    keys := make([]string, 0, len(c.tpls))
    for k := range c.tpls { keys = append(keys, k) }
    sort.Strings(keys)
    return keys
}
