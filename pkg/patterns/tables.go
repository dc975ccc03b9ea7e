// Package patterns holds the canonical server-shape tables (chordal ring,
// Rome 4P2H, 1H16P, 4H4P) as declarative, table-driven constant maps,
// grounded on the same GPUPartitionTable/PartitionTables idiom used for
// per-SKU GPU partition layouts, rather than hand-written procedural shape
// detectors. Shape carries yaml struct tags, but nothing in this module
// loads YAML: the catalog is fixed at build time.
package patterns

// Shape is one canonical layout for a given GPU count: a fixed intra-GPU
// ring order and the bandwidth class it is known to sustain.
type Shape struct {
	Name    string  `yaml:"name"`
	NGPUs   int     `yaml:"ngpus"`
	Order   []int   `yaml:"order"`
	BwIntra float64 `yaml:"bwIntra"`
}

// ShapeTable maps GPU count to the known shapes at that count, mirroring
// GPUPartitionTable's map[int][]GPUPartition shape.
type ShapeTable map[int][]Shape

// ChordalRingTables holds the chordal-ring canonical orderings, keyed by
// GPU count, grounded on H800PartitionTables/H100PartitionTables's
// per-count partition layout idiom.
var ChordalRingTables = ShapeTable{
	8: {
		{Name: "chordalring8", NGPUs: 8, Order: []int{0, 2, 4, 6, 1, 3, 5, 7}, BwIntra: 21.0},
	},
	16: {
		{Name: "chordalring16", NGPUs: 16, Order: []int{0, 2, 4, 6, 8, 10, 12, 14, 1, 3, 5, 7, 9, 11, 13, 15}, BwIntra: 21.0},
	},
}

// Rome4P2HTables holds the AMD Rome "4 PCI-switch, 2 hop" canonical
// ordering: each of 8 GPUs attached in pairs behind 4 PCI switches.
var Rome4P2HTables = ShapeTable{
	8: {
		{Name: "rome4p2h", NGPUs: 8, Order: []int{0, 1, 2, 3, 4, 5, 6, 7}, BwIntra: 18.0},
	},
}

// OneHost16PartitionTables ("1H16P": one host, 16 GPUs) and
// FourHost4PartitionTables ("4H4P": four hosts, 4 GPUs each) are the
// remaining canonical shapes named by the engine's pattern-matcher list.
var OneHost16PartitionTables = ShapeTable{
	16: {
		{Name: "1h16p", NGPUs: 16, Order: []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, BwIntra: 24.0},
	},
}

var FourHost4PartitionTables = ShapeTable{
	4: {
		{Name: "4h4p", NGPUs: 4, Order: []int{0, 1, 2, 3}, BwIntra: 21.0},
	},
}

// lookup returns the first shape in t at the given GPU count whose Name
// matches shapeName, or ok=false.
func lookup(t ShapeTable, ngpus int, shapeName string) (Shape, bool) {
	for _, s := range t[ngpus] {
		if s.Name == shapeName {
			return s, true
		}
	}
	return Shape{}, false
}
