package engine

import (
	"math/rand"

	"github.com/verte-zerg/dcsf/internal/model"
)

// OrderModules returns the run order of specs. Fixed order keeps the
// template order; random order is a seeded shuffle so a run can be replayed.
// The input slice is not modified.
func OrderModules(specs []model.ModuleSpec, order model.Order, seed int64) []model.ModuleSpec {
	out := make([]model.ModuleSpec, len(specs))
	copy(out, specs)
	if order != model.OrderRandom {
		return out
	}
	rnd := rand.New(rand.NewSource(seed))
	rnd.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}
