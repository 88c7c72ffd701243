package params

// Range is the slider range a settings layer offers for one field.
// The store never enforces it.
type Range struct {
	Name     string
	Min, Max float32
}

// Ranges lists the editing ranges of the tunable fields, in display order.
var Ranges = []Range{
	{"albedo", 0, 1},
	{"initial_step_size", 0.01, 0.1},
	{"fall_off_multiplier", 0, 1},
	{"light_march_size", 0.01, 0.2},
	{"absorption", 0.01, 1},
	{"density", 0.01, 1},
	{"absorption_cutoff", 0, 1},
	{"light_absorption_cutoff", 0, 1},
	{"noise_tile", 0.05, 40},
	{"noise_factor", 0.1, 15},
	{"wind", -5, 5},
	{"smooth_factor", 0, 1},
	{"sphere_index", 0, MaxShapes - 1},
	{"sphere_center", -20, 20},
	{"sphere_radius", 0, 10},
}

// LookupRange returns the range registered under name.
func LookupRange(name string) (Range, bool) {
	for _, r := range Ranges {
		if r.Name == name {
			return r, true
		}
	}
	return Range{}, false
}
