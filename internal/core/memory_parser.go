package core

import (
	"bufio"
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"

	"gwi.com/character-memory/internal/enums"
	"gwi.com/character-memory/internal/store"
)

// MemoryCandidate is one memory proposed by the extraction model.
type MemoryCandidate struct {
	Content    string  `json:"content"`
	Importance float64 `json:"importance"`
	Type       string  `json:"type"`
}

// markerLine matches "Memory:", "Memory 2:", "- Importance (0.0-1.0): 0.8",
// "2. **Type**: fact" and similar. Group 1 is an Importance or Type marker
// ("Memory Type" counts as Type), group 2 a Memory marker, group 3 the value.
// A Memory marker only takes a number or a parenthesised note before the
// colon.
var markerLine = regexp.MustCompile(`(?i)^\s*(?:[-*•]|\d+[.)])?\s*(?:\*\*)?\s*(?:((?:memory\s+)?type|importance)\b[^:\n]*|(memory)(?:\s*#?\d+|\s*\([^)]*\))?\s*(?:\*\*)?)\s*:\s*(.*)$`)

var number = regexp.MustCompile(`[-+]?(?:\d+\.?\d*|\.\d+)`)

type parseState int

const (
	awaitingMemory parseState = iota
	inMemory
)

// ParseMemories reads the extraction response line by line. A Memory marker
// starts a new candidate and flushes the previous one; the last candidate is
// flushed at end of input. Importance and Type lines outside a candidate are
// ignored.
func ParseMemories(text string) []MemoryCandidate {
	var (
		candidates []MemoryCandidate
		current    MemoryCandidate
		state      = awaitingMemory
	)
	flush := func() {
		if state == inMemory {
			candidates = append(candidates, current)
		}
		state = awaitingMemory
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		m := markerLine.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		value := cleanValue(m[3])

		marker := "memory"
		if m[1] != "" {
			marker = strings.ToLower(m[1])
			if strings.HasSuffix(marker, "type") {
				marker = "type"
			}
		}

		switch marker {
		case "memory":
			flush()
			current = MemoryCandidate{Content: value, Importance: store.DefaultImportance, Type: enums.MemoryConversation}
			state = inMemory
		case "importance":
			if state == inMemory {
				current.Importance = parseImportance(value)
			}
		case "type":
			if state == inMemory {
				current.Type = parseMemoryType(value)
			}
		}
	}
	flush()

	return candidates
}

func cleanValue(v string) string {
	v = strings.TrimSpace(v)
	v = strings.Trim(v, "*")
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "[") && strings.HasSuffix(v, "]") {
		v = strings.TrimSpace(v[1 : len(v)-1])
	}
	return v
}

// parseImportance takes the first number in v, clamped to [0,1]. Anything
// unparsable is the default importance.
func parseImportance(v string) float64 {
	n := number.FindString(v)
	if n == "" {
		return store.DefaultImportance
	}
	f, err := strconv.ParseFloat(n, 64)
	if err != nil || math.IsNaN(f) {
		return store.DefaultImportance
	}
	return math.Max(0, math.Min(1, f))
}

func parseMemoryType(v string) string {
	t := strings.ToLower(strings.TrimSpace(v))
	t = strings.ReplaceAll(t, " ", "_")
	if enums.IsMemoryType(t) {
		return t
	}
	return enums.MemoryConversation
}

// ValidateCandidate normalises a candidate before it is stored. Content and
// type problems reject the candidate; a bad importance is reset.
func ValidateCandidate(c MemoryCandidate) (MemoryCandidate, error) {
	c.Content = strings.TrimSpace(c.Content)
	if c.Content == "" {
		return c, errors.New("memory content is empty")
	}
	c.Type = strings.ToLower(strings.TrimSpace(c.Type))
	if !enums.IsMemoryType(c.Type) {
		return c, errors.New("invalid memory type " + strconv.Quote(c.Type))
	}
	if math.IsNaN(c.Importance) || c.Importance < 0 || c.Importance > 1 {
		c.Importance = store.DefaultImportance
	}
	return c, nil
}
