// Package selection maintains the set of genes chosen for plotting.
package selection

// Set is an ordered set of gene names. Operations are synchronous and have
// no side effects beyond the set itself; callers re-plot after mutating.
// Not safe for concurrent use; the owning session serializes access.
type Set struct {
	genes []string
	index map[string]int
}

// New returns an empty selection.
func New() *Set {
	return &Set{index: make(map[string]int)}
}

// Add inserts gene, reporting whether the set changed. Adding a gene that is
// already present is a no-op.
func (s *Set) Add(gene string) bool {
	if _, ok := s.index[gene]; ok {
		return false
	}
	s.index[gene] = len(s.genes)
	s.genes = append(s.genes, gene)
	return true
}

// Remove deletes gene, reporting whether the set changed.
func (s *Set) Remove(gene string) bool {
	idx, ok := s.index[gene]
	if !ok {
		return false
	}
	s.genes = append(s.genes[:idx], s.genes[idx+1:]...)
	delete(s.index, gene)
	for i := idx; i < len(s.genes); i++ {
		s.index[s.genes[i]] = i
	}
	return true
}

// Clear empties the selection.
func (s *Set) Clear() {
	s.genes = s.genes[:0]
	s.index = make(map[string]int)
}

// Has reports whether gene is selected.
func (s *Set) Has(gene string) bool {
	_, ok := s.index[gene]
	return ok
}

// Genes returns the selected genes in insertion order. The returned slice is
// a copy.
func (s *Set) Genes() []string {
	out := make([]string, len(s.genes))
	copy(out, s.genes)
	return out
}

// Len returns the number of selected genes.
func (s *Set) Len() int {
	return len(s.genes)
}
