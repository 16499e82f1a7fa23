package assetcache

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest lists the assets of one cache generation, by tier.
type Manifest struct {
	// Version is the human-facing version sent with SW_ACTIVATED.
	Version string `yaml:"version" json:"version"`

	// Critical assets are required to render the form offline.
	Critical []string `yaml:"critical" json:"critical"`

	// Important assets are cached best effort; failures are logged.
	Important []string `yaml:"important" json:"important"`

	// Additional assets are cached best effort; failures are ignored.
	Additional []string `yaml:"additional" json:"additional"`

	// HomeAliases are extra paths that serve the home page.
	HomeAliases []string `yaml:"home_aliases" json:"home_aliases"`

	// StaticBase is the single path prefix under which known assets live.
	// Alias lookups resolve a requested file name against assets below it.
	StaticBase string `yaml:"static_base" json:"static_base"`

	// APIPath is the prefix that is never intercepted.
	APIPath string `yaml:"api_path" json:"api_path"`
}

// DefaultManifest returns the rating form's asset list.
func DefaultManifest() Manifest {
	return Manifest{
		Version: "v2",
		Critical: []string{
			"/",
			"/static/css/styles.css",
			"/static/js/app.js",
			"/static/js/db.js",
			"/static/js/sync.js",
		},
		Important: []string{
			"/sync",
			"/config",
			"/manifest.json",
			"/static/images/icon-192.png",
		},
		Additional: []string{
			"/static/images/icon-512.png",
			"/static/images/header.png",
		},
		HomeAliases: []string{"/index.html"},
		StaticBase:  "/static/",
		APIPath:     "/api/",
	}
}

// LoadManifest reads a YAML manifest. Unknown fields are rejected, omitted
// fields keep their DefaultManifest values, and the result is validated.
func LoadManifest(file string) (Manifest, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes and validates a YAML manifest.
func ParseManifest(data []byte) (Manifest, error) {
	m := DefaultManifest()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Validate checks the manifest against the embedded CUE schema, then checks
// that no asset appears twice.
func (m Manifest) Validate() error {
	if err := validateSchema(m.normalized()); err != nil {
		return err
	}

	seen := make(map[string]string)
	for _, tier := range []struct {
		name   string
		assets []string
	}{
		{"critical", m.Critical},
		{"important", m.Important},
		{"additional", m.Additional},
	} {
		for _, a := range tier.assets {
			if prev, ok := seen[a]; ok {
				return &ManifestError{Field: tier.name, Message: fmt.Sprintf("%s already listed in %s", a, prev)}
			}
			seen[a] = tier.name
		}
	}
	return nil
}

// Assets returns every asset in tier order.
func (m Manifest) Assets() []string {
	out := make([]string, 0, len(m.Critical)+len(m.Important)+len(m.Additional))
	out = append(out, m.Critical...)
	out = append(out, m.Important...)
	out = append(out, m.Additional...)
	return out
}

// HomePaths returns the paths that serve the home page, "/" first.
func (m Manifest) HomePaths() []string {
	out := []string{"/", "/index.html"}
	for _, a := range m.HomeAliases {
		if a != "/" && a != "/index.html" {
			out = append(out, a)
		}
	}
	return out
}

// IsHome reports whether p serves the home page.
func (m Manifest) IsHome(p string) bool {
	for _, h := range m.HomePaths() {
		if p == h {
			return true
		}
	}
	return false
}

// IsAPI reports whether p is under the API path.
func (m Manifest) IsAPI(p string) bool {
	base := strings.TrimSuffix(m.APIPath, "/")
	return p == base || strings.HasPrefix(p, base+"/")
}

// AliasFor returns the known asset under StaticBase whose file name matches
// the requested path, if there is exactly one.
func (m Manifest) AliasFor(p string) (string, bool) {
	name := path.Base(p)
	if name == "/" || name == "." {
		return "", false
	}
	var match string
	for _, a := range m.Assets() {
		if a == p || !strings.HasPrefix(a, m.StaticBase) || path.Base(a) != name {
			continue
		}
		if match != "" {
			return "", false
		}
		match = a
	}
	return match, match != ""
}

// normalized replaces nil slices so the schema sees lists, not nulls.
func (m Manifest) normalized() Manifest {
	fix := func(s []string) []string {
		if s == nil {
			return []string{}
		}
		return s
	}
	m.Critical = fix(m.Critical)
	m.Important = fix(m.Important)
	m.Additional = fix(m.Additional)
	m.HomeAliases = fix(m.HomeAliases)
	return m
}

// canonical returns the manifest as a value accepted by rating.MarshalCanonical.
func (m Manifest) canonical() map[string]any {
	n := m.normalized()
	return map[string]any{
		"version":      n.Version,
		"critical":     n.Critical,
		"important":    n.Important,
		"additional":   n.Additional,
		"home_aliases": n.HomeAliases,
		"static_base":  n.StaticBase,
		"api_path":     n.APIPath,
	}
}
