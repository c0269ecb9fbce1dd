package expert

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Lookup is the tagged outcome of resolving a role.
type Lookup struct {
	Profile Profile
	Found   bool
	Custom  bool
}

// NotFound is the empty lookup.
var NotFound = Lookup{}

// Resolver looks roles up in the built-in profiles first, then in custom roles.
type Resolver struct {
	builtin map[string]Profile
	custom  map[string]Profile
}

// NewResolver объединяет встроенные и пользовательские роли
func NewResolver(custom []Profile) *Resolver {
	r := &Resolver{builtin: Builtin(), custom: make(map[string]Profile, len(custom))}
	for _, p := range custom {
		if name := strings.TrimSpace(p.Name); name != "" {
			p.Name = name
			r.custom[name] = p
		}
	}
	return r
}

// Lookup ищет профиль роли
func (r *Resolver) Lookup(role string) Lookup {
	role = strings.TrimSpace(role)
	if p, ok := r.builtin[role]; ok {
		return Lookup{Profile: p, Found: true}
	}
	if p, ok := r.custom[role]; ok {
		return Lookup{Profile: p, Found: true, Custom: true}
	}
	return NotFound
}

// Directive lets the grounded pipeline borrow a persona for a matching domain.
func (r *Resolver) Directive(domain string) (string, bool) {
	l := r.Lookup(domain)
	if !l.Found {
		return "", false
	}
	return l.Profile.CoreDirective, true
}

// Roles lists every resolvable role name.
func (r *Resolver) Roles() []string {
	out := make([]string, 0, len(r.builtin)+len(r.custom))
	for name := range r.builtin {
		out = append(out, name)
	}
	for name := range r.custom {
		if _, dup := r.builtin[name]; !dup {
			out = append(out, name)
		}
	}
	return out
}

type customFile struct {
	Roles []Profile `yaml:"roles"`
}

// LoadCustom reads custom roles from a YAML file. A missing file yields no roles.
func LoadCustom(path string, log *zap.Logger) ([]Profile, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if log != nil {
				log.Warn("custom roles file not found", zap.String("path", path))
			}
			return nil, nil
		}
		return nil, fmt.Errorf("read custom roles: %w", err)
	}
	var f customFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse custom roles %s: %w", path, err)
	}
	for i, p := range f.Roles {
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("custom role #%d has no name", i+1)
		}
	}
	return f.Roles, nil
}
