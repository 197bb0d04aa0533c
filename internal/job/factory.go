package job

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/zerverless/coordinator/internal/catalog"
)

// DefaultJitter is the relative window each baseline parameter is drawn in.
const DefaultJitter = 0.25

type Factory struct {
	catalog  *catalog.Catalog
	replicas int
	jitter   float64
	now      func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

func NewFactory(c *catalog.Catalog, replicas int) *Factory {
	return &Factory{
		catalog:  c,
		replicas: replicas,
		jitter:   DefaultJitter,
		now:      time.Now,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// WithSeed makes parameter draws reproducible.
func (f *Factory) WithSeed(seed uint64) *Factory {
	f.mu.Lock()
	f.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	f.mu.Unlock()
	return f
}

func (f *Factory) WithClock(now func() time.Time) *Factory {
	f.now = now
	return f
}

// Generate builds a pending job with jittered parameters and the comparison
// envelope derived from the same draw.
func (f *Factory) Generate(jobTypeID string, priority Priority) (*Job, error) {
	jt, ok := f.catalog.Get(jobTypeID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidJobType, jobTypeID)
	}

	params := make(map[string]float64, len(jt.Parameters))
	ratios := make(map[string]float64, len(jt.Parameters))

	f.mu.Lock()
	for _, name := range jt.ParameterNames() {
		base := jt.Parameters[name]
		ratio := 1 + (f.rng.Float64()*2-1)*f.jitter
		params[name] = base * ratio
		ratios[name] = ratio
	}
	f.mu.Unlock()

	env := make(Envelope, 0, len(jt.Fields))
	for _, fd := range jt.Fields {
		scale := 1.0
		if fd.ScaleBy != "" {
			scale = ratios[fd.ScaleBy]
		}
		env = append(env, FieldRange{
			Name:      fd.Name,
			Min:       fd.Min * scale,
			Max:       fd.Max * scale,
			Tolerance: fd.Tolerance * scale,
		})
	}

	return New(jt.ID, priority, f.replicas, params, env, f.now()), nil
}
