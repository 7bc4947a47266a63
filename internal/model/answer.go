package model

import "strings"

// AnswerType discriminates the shape of an answer value.
type AnswerType string

const (
	AnswerTypeChoice     AnswerType = "choice"
	AnswerTypeEssay      AnswerType = "essay"
	AnswerTypeFillBlanks AnswerType = "fill_blanks"
)

// AnswerEntry is the opaque value the engine stores per question item.
// Values is ordered; multi-blank question types carry one string per blank,
// every other type carries a single element.
//
// Presence of an entry in an AnswerMap means the question was touched. A
// touched entry whose values are all empty does not count as answered.
type AnswerEntry struct {
	Type   AnswerType `json:"type"`
	Values []string   `json:"values"`
}

// Answered reports whether every expected blank holds a non-empty value.
func (e AnswerEntry) Answered(expectedBlanks int) bool {
	if expectedBlanks < 1 {
		expectedBlanks = 1
	}
	if len(e.Values) < expectedBlanks {
		return false
	}
	for i := 0; i < expectedBlanks; i++ {
		if strings.TrimSpace(e.Values[i]) == "" {
			return false
		}
	}
	return true
}

// Touched reports whether the entry holds any value at all, empty or not.
func (e AnswerEntry) Touched() bool {
	return len(e.Values) > 0
}

// AnswerMap is the in-memory answer store, keyed by question-item id.
type AnswerMap map[string]AnswerEntry

// Clone returns a shallow-independent copy of the map.
func (m AnswerMap) Clone() AnswerMap {
	if m == nil {
		return nil
	}
	out := make(AnswerMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// AnsweredCount counts entries with at least one non-empty value. Blank
// expectations beyond one are a per-question concern; progress accounting
// only distinguishes "some value" from "no value".
func (m AnswerMap) AnsweredCount() int {
	n := 0
	for _, e := range m {
		if e.Answered(1) {
			n++
		}
	}
	return n
}

// ProgressPercent returns answered questions over the total, 0-100.
func (m AnswerMap) ProgressPercent(totalQuestions int) int {
	if totalQuestions <= 0 {
		return 0
	}
	return m.AnsweredCount() * 100 / totalQuestions
}

// AudioCounts tracks plays per synthetic audio key. Values only ever grow.
type AudioCounts map[string]int

// Clone returns a shallow-independent copy of the map.
func (c AudioCounts) Clone() AudioCounts {
	if c == nil {
		return nil
	}
	out := make(AudioCounts, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
