package model

import "strings"

// Question is one exam item as delivered to the client. The engine never
// renders it; it only needs the id, the answer shape and the blank template.
type Question struct {
	ID       string     `json:"id"`
	Type     AnswerType `json:"type"`
	Prompt   string     `json:"prompt"`
	Template string     `json:"template,omitempty"`
	AudioURL string     `json:"audio_url,omitempty"`
	MaxPlays int        `json:"max_plays,omitempty"`
}

// Page is one screen of questions within an attempt.
type Page struct {
	Index     int        `json:"index"`
	Questions []Question `json:"questions"`
}

// BlankCount derives the number of expected blanks from the question
// template's bracket pairs. Non-template question types expect one value.
func (q Question) BlankCount() int {
	if q.Type != AnswerTypeFillBlanks {
		return 1
	}
	return BlankCount(q.Template)
}

// BlankCount counts "[...]" pairs in a fill-blanks template, minimum 1.
func BlankCount(template string) int {
	n := 0
	rest := template
	for {
		open := strings.Index(rest, "[")
		if open < 0 {
			break
		}
		end := strings.Index(rest[open:], "]")
		if end < 0 {
			break
		}
		n++
		rest = rest[open+end+1:]
	}
	if n < 1 {
		return 1
	}
	return n
}
