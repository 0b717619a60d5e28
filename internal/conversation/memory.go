package conversation

// Memory is the retained, session-scoped history used to build prompts.
// Every turn is retained once. It is not safe for concurrent use.
type Memory struct {
	turns Log
	ids   map[string]struct{}
}

func NewMemory(seed ...Turn) *Memory {
	m := &Memory{ids: make(map[string]struct{})}
	for _, t := range seed {
		m.Append(t)
	}
	return m
}

// Sync appends the part of log that memory has not seen yet and returns the
// number of turns added. Callers may pass the full history or only the newest
// turns. Turns with an ID already retained are skipped wherever they appear;
// for anonymous turns the longest suffix of memory matching a prefix of log
// counts as seen.
func (m *Memory) Sync(log Log) int {
	added := 0
	for _, t := range log[overlap(m.turns, log):] {
		if m.known(t) {
			continue
		}
		m.Append(t)
		added++
	}
	return added
}

func (m *Memory) Append(t Turn) {
	m.turns = append(m.turns, t)
	if t.ID != "" {
		m.ids[t.ID] = struct{}{}
	}
}

// Turns returns a copy of the retained history.
func (m *Memory) Turns() Log {
	return m.turns.Clone()
}

func (m *Memory) Len() int {
	return len(m.turns)
}

func (m *Memory) known(t Turn) bool {
	if t.ID == "" {
		return false
	}
	_, ok := m.ids[t.ID]
	return ok
}

func overlap(seen, incoming Log) int {
	n := min(len(seen), len(incoming))
	for k := n; k > 0; k-- {
		if matches(seen[len(seen)-k:], incoming[:k]) {
			return k
		}
	}
	return 0
}

func matches(a, b Log) bool {
	for i := range a {
		if !a[i].Same(b[i]) {
			return false
		}
	}
	return true
}
