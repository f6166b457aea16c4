package vm

// OrderedMap is an insertion-ordered string -> Value map, used for the Map
// value variant, process globals, and lambda capture environments. A plain
// map loses iteration order; the spec requires Map to preserve insertion
// order (§3), so this pairs a map for lookup with a key slice for order.
type OrderedMap struct {
	index map[string]int
	keys  []string
	vals  []Value
}

func NewOrderedMap() *OrderedMap {
	return &OrderedMap{index: make(map[string]int)}
}

func (m *OrderedMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

func (m *OrderedMap) Get(key string) (Value, bool) {
	if m == nil {
		return Value{}, false
	}
	i, ok := m.index[key]
	if !ok {
		return Value{}, false
	}
	return m.vals[i], true
}

// Set inserts or overwrites key, preserving the original insertion position
// on overwrite.
func (m *OrderedMap) Set(key string, val Value) {
	if i, ok := m.index[key]; ok {
		m.vals[i] = val
		return
	}
	m.index[key] = len(m.keys)
	m.keys = append(m.keys, key)
	m.vals = append(m.vals, val)
}

func (m *OrderedMap) Delete(key string) {
	i, ok := m.index[key]
	if !ok {
		return
	}
	delete(m.index, key)
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
	m.vals = append(m.vals[:i], m.vals[i+1:]...)
	for k := i; k < len(m.keys); k++ {
		m.index[m.keys[k]] = k
	}
}

// Keys returns the keys in insertion order. Callers must not mutate it.
func (m *OrderedMap) Keys() []string {
	if m == nil {
		return nil
	}
	return m.keys
}

func (m *OrderedMap) Clone() *OrderedMap {
	if m == nil {
		return nil
	}
	cp := &OrderedMap{
		index: make(map[string]int, len(m.index)),
		keys:  append([]string(nil), m.keys...),
		vals:  make([]Value, len(m.vals)),
	}
	for k, v := range m.index {
		cp.index[k] = v
	}
	for i, v := range m.vals {
		cp.vals[i] = v.Clone()
	}
	return cp
}

// MatchesPattern implements the mailbox/selective-receive pattern matching
// rule from spec §4.3: a null pattern matches anything; a map pattern
// matches iff every key in the pattern is present and either the pattern's
// value there is null (wildcard) or structurally equal; any other pattern
// matches by structural equality.
func MatchesPattern(value, pattern Value) bool {
	if pattern.IsNull() {
		return true
	}
	if pattern.Tag == TagMap {
		if value.Tag != TagMap {
			return false
		}
		for _, k := range pattern.m.Keys() {
			pv, _ := pattern.m.Get(k)
			vv, ok := value.m.Get(k)
			if !ok {
				return false
			}
			if pv.IsNull() {
				continue
			}
			if !Equal(vv, pv) {
				return false
			}
		}
		return true
	}
	return Equal(value, pattern)
}
