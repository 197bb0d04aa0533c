package catalog

import (
	_ "embed"
	"encoding/base64"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Requirements is what a contributor must declare to receive a job type.
type Requirements struct {
	GPU         bool    `yaml:"gpu" json:"gpu"`
	WebGPU      bool    `yaml:"webgpu" json:"webgpu"`
	Wasm        bool    `yaml:"wasm" json:"wasm"`
	MinCPUCores int     `yaml:"min_cpu_cores" json:"min_cpu_cores,omitempty"`
	MinMemoryGB float64 `yaml:"min_memory_gb" json:"min_memory_gb,omitempty"`
}

// Field describes one numeric result field and how far two replicas may
// drift apart on it before they stop agreeing.
type Field struct {
	Name      string  `yaml:"name" json:"name"`
	Tolerance float64 `yaml:"tolerance" json:"tolerance"`
	Min       float64 `yaml:"min" json:"min"`
	Max       float64 `yaml:"max" json:"max"`
	ScaleBy   string  `yaml:"scale_by,omitempty" json:"scale_by,omitempty"`
}

type Kernel struct {
	Runtime string `yaml:"runtime" json:"runtime"`
	Code    string `yaml:"code" json:"code"`
}

type JobType struct {
	ID           string             `yaml:"id" json:"id"`
	Name         string             `yaml:"name" json:"name"`
	Complexity   Complexity         `yaml:"complexity" json:"complexity"`
	Requirements Requirements       `yaml:"requirements" json:"requirements"`
	Parameters   map[string]float64 `yaml:"parameters" json:"parameters"`
	Fields       []Field            `yaml:"fields" json:"fields"`
	BasePoints   float64            `yaml:"base_points" json:"base_points"`
	Kernel       *Kernel            `yaml:"kernel,omitempty" json:"kernel,omitempty"`
}

type document struct {
	JobTypes []JobType `yaml:"job_types"`
}

// Catalog is read-only after construction and safe for concurrent use.
type Catalog struct {
	types map[string]JobType
	order []string
}

func New(types []JobType) (*Catalog, error) {
	c := &Catalog{types: make(map[string]JobType, len(types))}
	for _, t := range types {
		if err := validate(t); err != nil {
			return nil, err
		}
		if _, dup := c.types[t.ID]; dup {
			return nil, fmt.Errorf("duplicate job type: %s", t.ID)
		}
		c.types[t.ID] = t
		c.order = append(c.order, t.ID)
	}
	if len(c.order) == 0 {
		return nil, fmt.Errorf("catalog has no job types")
	}
	return c, nil
}

func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yaml parse: %w", err)
	}
	return New(doc.JobTypes)
}

func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Marshal renders the catalog in the same YAML layout Parse reads.
func (c *Catalog) Marshal() ([]byte, error) {
	return yaml.Marshal(document{JobTypes: c.List()})
}

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}

func (c *Catalog) Get(id string) (JobType, bool) {
	t, ok := c.types[id]
	return t, ok
}

// List returns job types in file order.
func (c *Catalog) List() []JobType {
	out := make([]JobType, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.types[id])
	}
	return out
}

func (c *Catalog) IDs() []string {
	return append([]string(nil), c.order...)
}

func validate(t JobType) error {
	if t.ID == "" {
		return fmt.Errorf("job type without id")
	}
	if t.BasePoints <= 0 {
		return fmt.Errorf("job type %s: base_points must be positive", t.ID)
	}
	if len(t.Fields) == 0 {
		return fmt.Errorf("job type %s: no result fields", t.ID)
	}
	seen := make(map[string]bool, len(t.Fields))
	for _, f := range t.Fields {
		if f.Name == "" {
			return fmt.Errorf("job type %s: field without name", t.ID)
		}
		if seen[f.Name] {
			return fmt.Errorf("job type %s: duplicate field %s", t.ID, f.Name)
		}
		seen[f.Name] = true
		if f.Tolerance <= 0 {
			return fmt.Errorf("job type %s: field %s needs a positive tolerance", t.ID, f.Name)
		}
		if f.ScaleBy != "" {
			if _, ok := t.Parameters[f.ScaleBy]; !ok {
				return fmt.Errorf("job type %s: field %s scales by unknown parameter %s", t.ID, f.Name, f.ScaleBy)
			}
		}
	}
	if t.Kernel != nil {
		switch t.Kernel.Runtime {
		case "lua", "js":
		case "wasm":
			if _, err := base64.StdEncoding.DecodeString(t.Kernel.Code); err != nil {
				return fmt.Errorf("job type %s: wasm kernel must be base64: %w", t.ID, err)
			}
		default:
			return fmt.Errorf("job type %s: unsupported kernel runtime %q", t.ID, t.Kernel.Runtime)
		}
	}
	return nil
}

// ParameterNames returns the baseline parameter names sorted, so callers
// iterate them deterministically.
func (t JobType) ParameterNames() []string {
	names := make([]string, 0, len(t.Parameters))
	for name := range t.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
