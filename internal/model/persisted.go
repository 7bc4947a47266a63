package model

import "time"

// PersistedState is the durable envelope kept in the local cache per
// attempt. Every write is a shallow merge over the previous value, never a
// destructive replace, so a partial update from one concern (audio counts)
// cannot erase another concern's last-known value (answers).
type PersistedState struct {
	Answers              AnswerMap         `json:"answers,omitempty"`
	AudioCounts          AudioCounts       `json:"audio_counts,omitempty"`
	CurrentPageIndex     *int              `json:"current_page_index,omitempty"`
	CategoryIDs          []string          `json:"category_ids,omitempty"`
	CompletedCategoryIDs []string          `json:"completed_category_ids,omitempty"`
	RecordID             string            `json:"record_id,omitempty"`
	PreparedCategories   []string          `json:"prepared_categories,omitempty"`
	CategoryNames        map[string]string `json:"category_names,omitempty"`
	CurrentCategoryID    string            `json:"current_category_id,omitempty"`
	Mode                 Mode              `json:"mode,omitempty"`
	LastSavedAt          time.Time         `json:"last_saved_at"`
}

// PersistedPartial is one concern's contribution to a PersistedState. Nil
// fields are left untouched by the merge.
type PersistedPartial struct {
	Answers              AnswerMap
	AudioCounts          AudioCounts
	CurrentPageIndex     *int
	CategoryIDs          []string
	CompletedCategoryIDs []string
	RecordID             *string
	PreparedCategories   []string
	CategoryNames        map[string]string
	CurrentCategoryID    *string
	Mode                 *Mode
}

// ApplyTo merges the partial into dst, skipping unset fields. The
// LastSavedAt stamp is the store's responsibility, not the merge's.
func (p PersistedPartial) ApplyTo(dst *PersistedState) {
	if p.Answers != nil {
		dst.Answers = p.Answers.Clone()
	}
	if p.AudioCounts != nil {
		dst.AudioCounts = p.AudioCounts.Clone()
	}
	if p.CurrentPageIndex != nil {
		idx := *p.CurrentPageIndex
		dst.CurrentPageIndex = &idx
	}
	if p.CategoryIDs != nil {
		dst.CategoryIDs = append([]string(nil), p.CategoryIDs...)
	}
	if p.CompletedCategoryIDs != nil {
		dst.CompletedCategoryIDs = append([]string(nil), p.CompletedCategoryIDs...)
	}
	if p.RecordID != nil {
		dst.RecordID = *p.RecordID
	}
	if p.PreparedCategories != nil {
		dst.PreparedCategories = append([]string(nil), p.PreparedCategories...)
	}
	if p.CategoryNames != nil {
		names := make(map[string]string, len(p.CategoryNames))
		for k, v := range p.CategoryNames {
			names[k] = v
		}
		dst.CategoryNames = names
	}
	if p.CurrentCategoryID != nil {
		dst.CurrentCategoryID = *p.CurrentCategoryID
	}
	if p.Mode != nil {
		dst.Mode = *p.Mode
	}
}
