package transpile

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/teranos/gbvm/errors"
)

// LineMap maps a line of the assembled script to the authored line that
// produced it. Both are 1-based.
type LineMap map[int]int

// Source returns the authored line for an assembled line.
func (m LineMap) Source(assembled int) (int, bool) {
	line, ok := m[assembled]
	return line, ok && line > 0
}

// Lines returns the mapped assembled lines in ascending order.
func (m LineMap) Lines() []int {
	lines := make([]int, 0, len(m))
	for l := range m {
		lines = append(lines, l)
	}
	sort.Ints(lines)
	return lines
}

// MarshalJSON writes the map as an object keyed by assembled line.
func (m LineMap) MarshalJSON() ([]byte, error) {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[strconv.Itoa(k)] = v
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a map written by MarshalJSON.
func (m *LineMap) UnmarshalJSON(data []byte) error {
	var raw map[string]int
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(LineMap, len(raw))
	for k, v := range raw {
		line, err := strconv.Atoi(k)
		if err != nil {
			return errors.Wrapf(err, "line map key %q", k)
		}
		out[line] = v
	}
	*m = out
	return nil
}
