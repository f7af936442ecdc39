package sml

import "sort"

// Entity binds a reading name to the payload offset it is read from.
type Entity struct {
	Name   string
	Offset int
	// Scale multiplies the raw value; zero means 1.
	Scale float64
}

// Reading is the value of one entity for one decode cycle.
type Reading struct {
	Name    string  `json:"name"`
	Offset  int     `json:"offset"`
	Raw     Value   `json:"raw"`
	Value   float64 `json:"value"`
	Present bool    `json:"present"`
}

// Readings maps entity names to their readings.
type Readings map[string]Reading

// Assemble extracts every entity from the tree. An entity whose offset holds
// no scalar in this frame is marked absent; it does not fail the others.
func Assemble(root *Node, entities []Entity) Readings {
	out := make(Readings, len(entities))
	for _, e := range entities {
		r := Reading{Name: e.Name, Offset: e.Offset}
		if raw, err := Extract(root, e.Offset); err == nil {
			r.Raw = raw
			r.Value = raw.Float64() * e.scale()
			r.Present = true
		}
		out[e.Name] = r
	}
	return out
}

func (e Entity) scale() float64 {
	if e.Scale == 0 {
		return 1
	}
	return e.Scale
}

// Present returns the readings found in this cycle, sorted by name.
func (rs Readings) Present() []Reading {
	out := make([]Reading, 0, len(rs))
	for _, r := range rs {
		if r.Present {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
