// Package tasks enumerates the work units of a run: the cross product of
// (region, query) pairs and the owner allowlist, minus what a previous
// run already completed.
package tasks

// Key identifies one unit of work. Owner is empty when the run has no
// owner allowlist.
type Key struct {
	Region string `json:"region"`
	Query  string `json:"query"`
	Owner  string `json:"owner,omitempty"`
}

// Pair is one (region, query) combination from the run configuration.
type Pair struct {
	Region string `yaml:"region" json:"region"`
	Query  string `yaml:"query" json:"query"`
}

// Dimensions describes the axes a run iterates over.
type Dimensions struct {
	Pairs  []Pair
	Owners []string
}

// Enumerate returns every Key of the run in configuration order:
// pairs outermost, owners innermost. An empty owner list yields one Key
// per pair with the empty owner sentinel.
func Enumerate(d Dimensions) []Key {
	owners := d.Owners
	if len(owners) == 0 {
		owners = []string{""}
	}
	keys := make([]Key, 0, len(d.Pairs)*len(owners))
	for _, p := range d.Pairs {
		for _, o := range owners {
			keys = append(keys, Key{Region: p.Region, Query: p.Query, Owner: o})
		}
	}
	return keys
}

// Pending returns the keys not present in done, preserving the order of
// keys. done is typically the checkpoint's completed set.
func Pending(keys []Key, done map[Key]struct{}) []Key {
	if len(done) == 0 {
		return keys
	}
	out := make([]Key, 0, len(keys))
	for _, k := range keys {
		if _, ok := done[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}
