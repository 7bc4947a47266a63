package session

import "github.com/stemsi/exstem-session/internal/model"

// ResolvePageIndex restores the page pointer after a reload or device
// switch: the maximum of the cached and server-synced values, clamped to
// [0, totalPages-1]. Forward-only — a stale source can never walk the
// student backward. Nil inputs mean "source has no value".
func ResolvePageIndex(local, server *int, totalPages int) int {
	idx := 0
	if local != nil && *local > idx {
		idx = *local
	}
	if server != nil && *server > idx {
		idx = *server
	}
	if totalPages > 0 && idx > totalPages-1 {
		idx = totalPages - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

// ResolveAnswers restores the answer map with fixed precedence:
// navigation-carried state, then local cache, then server-saved state.
// Last-writer-wins per source, not a per-key merge.
func ResolveAnswers(nav, local, server model.AnswerMap) model.AnswerMap {
	switch {
	case len(nav) > 0:
		return nav.Clone()
	case len(local) > 0:
		return local.Clone()
	case len(server) > 0:
		return server.Clone()
	}
	return model.AnswerMap{}
}

// ResolveAudioCounts restores play counts with the same precedence chain
// as ResolveAnswers.
func ResolveAudioCounts(nav, local, server model.AudioCounts) model.AudioCounts {
	switch {
	case len(nav) > 0:
		return nav.Clone()
	case len(local) > 0:
		return local.Clone()
	case len(server) > 0:
		return server.Clone()
	}
	return model.AudioCounts{}
}
