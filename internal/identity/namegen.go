package identity

import (
	"fmt"
	"math/rand/v2"
)

// NameGenerator produces display names for new identities. Generated names
// may collide; the resolver retries on a name conflict with a fresh draw.
type NameGenerator interface {
	Generate() string
}

// NewNameGenerator returns the generator for the configured strategy. base is
// only consulted by the "base" strategy.
func NewNameGenerator(strategy, base string) (NameGenerator, error) {
	switch strategy {
	case "pool":
		return &poolGenerator{}, nil
	case "base":
		if base == "" {
			base = "user"
		}
		return &baseGenerator{base: base}, nil
	default:
		return nil, fmt.Errorf("unknown name generator strategy %q", strategy)
	}
}

var (
	nameAdjectives = []string{
		"amber", "bold", "brisk", "calm", "clever", "crimson", "eager",
		"gentle", "golden", "keen", "lively", "lucid", "mellow", "nimble",
		"quiet", "rapid", "silent", "solar", "swift", "vivid",
	}
	nameNouns = []string{
		"badger", "crane", "falcon", "fox", "heron", "lynx", "marten",
		"otter", "owl", "raven", "salmon", "stoat", "swallow", "tern",
		"wolf", "wren",
	}
)

// poolGenerator draws adjective-noun pairs with a short numeric suffix,
// e.g. "swift-fox-17".
type poolGenerator struct{}

func (g *poolGenerator) Generate() string {
	return fmt.Sprintf("%s-%s-%d",
		nameAdjectives[rand.IntN(len(nameAdjectives))],
		nameNouns[rand.IntN(len(nameNouns))],
		rand.IntN(100),
	)
}

// baseGenerator appends a random suffix to a fixed base word, e.g. "user-48213".
type baseGenerator struct {
	base string
}

func (g *baseGenerator) Generate() string {
	return fmt.Sprintf("%s-%05d", g.base, rand.IntN(100000))
}
