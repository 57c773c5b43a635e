// README: Immutable, ordered zone registry loaded once from YAML.
package zone

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_zones.yaml
var defaultZones []byte

// Registry holds zones in precedence order: circle zones in file order,
// followed by polygon zones in file order. It is never mutated after
// construction and is safe for concurrent use.
type Registry struct {
	zones  []Zone
	byName map[string]int
}

type registryFile struct {
	Zones []Zone `yaml:"zones"`
}

// Load reads a registry file. An empty path loads the embedded default.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Parse(bytes.NewReader(defaultZones))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open zone registry: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a registry from YAML.
func Parse(r io.Reader) (*Registry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRegistry, err)
	}
	return NewRegistry(file.Zones)
}

// NewRegistry validates zones and fixes their precedence order. The input
// slice is copied.
func NewRegistry(zones []Zone) (*Registry, error) {
	reg := &Registry{byName: make(map[string]int, len(zones))}
	var circles, polygons []Zone
	for i, z := range zones {
		z.Name = strings.TrimSpace(z.Name)
		if err := validate(z); err != nil {
			return nil, fmt.Errorf("%w: zone %d: %v", ErrInvalidRegistry, i, err)
		}
		if _, dup := reg.byName[z.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate zone %q", ErrInvalidRegistry, z.Name)
		}
		reg.byName[z.Name] = -1
		if z.Kind == KindCircle {
			circles = append(circles, z.clone())
		} else {
			polygons = append(polygons, z.clone())
		}
	}
	reg.zones = append(circles, polygons...)
	for i, z := range reg.zones {
		reg.byName[z.Name] = i
	}
	return reg, nil
}

func validate(z Zone) error {
	if z.Name == "" {
		return fmt.Errorf("missing name")
	}
	if z.Name == Unknown {
		return fmt.Errorf("%q is reserved", Unknown)
	}
	switch z.Kind {
	case KindCircle:
		if len(z.Centers) == 0 {
			return fmt.Errorf("%s: circle needs at least one center", z.Name)
		}
		if !(z.RadiusMiles > 0) {
			return fmt.Errorf("%s: radius must be positive", z.Name)
		}
		for _, c := range z.Centers {
			if !c.Valid() {
				return fmt.Errorf("%s: invalid center %v", z.Name, c)
			}
		}
	case KindPolygon:
		if len(z.Vertices) < 3 {
			return fmt.Errorf("%s: polygon needs at least 3 vertices", z.Name)
		}
		for _, v := range z.Vertices {
			if !v.Valid() {
				return fmt.Errorf("%s: invalid vertex %v", z.Name, v)
			}
		}
	default:
		return fmt.Errorf("%s: unknown kind %q", z.Name, z.Kind)
	}
	return nil
}

// Zones returns a copy of the registry in precedence order.
func (r *Registry) Zones() []Zone {
	out := make([]Zone, len(r.zones))
	for i, z := range r.zones {
		out[i] = z.clone()
	}
	return out
}

// Lookup returns the zone with the given name.
func (r *Registry) Lookup(name string) (Zone, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Zone{}, false
	}
	return r.zones[i].clone(), true
}

func (r *Registry) Len() int {
	return len(r.zones)
}
