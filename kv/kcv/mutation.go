package kcv

// KCVMutation is the pending change to one key: additions in arrival order and a set of deleted columns.
type KCVMutation struct {
	additions []Entry
	deletions []StaticBuffer
}

// NewKCVMutation copies both lists, so the caller may reuse them.
func NewKCVMutation(additions []Entry, deletions []StaticBuffer) *KCVMutation {
	m := &KCVMutation{}
	if len(additions) > 0 {
		m.additions = append([]Entry(nil), additions...)
	}
	if len(deletions) > 0 {
		m.deletions = append([]StaticBuffer(nil), deletions...)
	}
	return m
}

func (m *KCVMutation) Additions() []Entry {
	return m.additions
}

func (m *KCVMutation) Deletions() []StaticBuffer {
	return m.deletions
}

func (m *KCVMutation) HasAdditions() bool {
	return len(m.additions) > 0
}

func (m *KCVMutation) HasDeletions() bool {
	return len(m.deletions) > 0
}

func (m *KCVMutation) IsEmpty() bool {
	return !m.HasAdditions() && !m.HasDeletions()
}

func (m *KCVMutation) TotalMutations() int {
	return len(m.additions) + len(m.deletions)
}

// Merge appends other after m. Conflicts are resolved by Consolidate, where later additions win.
func (m *KCVMutation) Merge(other *KCVMutation) {
	m.additions = append(m.additions, other.additions...)
	m.deletions = append(m.deletions, other.deletions...)
}

// ChangedColumns lists every added and deleted column, additions first.
func (m *KCVMutation) ChangedColumns() []StaticBuffer {
	cols := make([]StaticBuffer, 0, m.TotalMutations())
	for _, e := range m.additions {
		cols = append(cols, e.Column)
	}
	return append(cols, m.deletions...)
}

// Consolidate collapses the mutation into its net effect: the last addition of a column wins, duplicate deletions
// are folded and a deletion of an added column is dropped.
func (m *KCVMutation) Consolidate() {
	if len(m.additions) > 1 {
		last := make(map[StaticBuffer]int, len(m.additions))
		for i, e := range m.additions {
			last[e.Column] = i
		}
		if len(last) < len(m.additions) {
			kept := make([]Entry, 0, len(last))
			for i, e := range m.additions {
				if last[e.Column] == i {
					kept = append(kept, e)
				}
			}
			m.additions = kept
		}
	}
	if len(m.deletions) == 0 {
		return
	}
	added := make(map[StaticBuffer]struct{}, len(m.additions))
	for _, e := range m.additions {
		added[e.Column] = struct{}{}
	}
	seen := make(map[StaticBuffer]struct{}, len(m.deletions))
	kept := m.deletions[:0:0]
	for _, col := range m.deletions {
		if _, ok := added[col]; ok {
			continue
		}
		if _, ok := seen[col]; ok {
			continue
		}
		seen[col] = struct{}{}
		kept = append(kept, col)
	}
	m.deletions = kept
}

// IsConsolidated reports whether no column is both added and deleted.
func (m *KCVMutation) IsConsolidated() bool {
	added := make(map[StaticBuffer]struct{}, len(m.additions))
	for _, e := range m.additions {
		added[e.Column] = struct{}{}
	}
	for _, col := range m.deletions {
		if _, ok := added[col]; ok {
			return false
		}
	}
	return true
}
