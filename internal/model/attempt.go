package model

// Mode distinguishes a standalone category run from a multi-category run.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeMulti  Mode = "multi"
)

// PackageStatus is the publication state of the exam package behind an attempt.
type PackageStatus string

const (
	PackagePublished PackageStatus = "PUBLISHED"
	PackageDraft     PackageStatus = "DRAFT"
)

// Category identifies one exam category within a package.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TestMeta carries the multi-category bookkeeping attached to an attempt.
// For single-category runs PreparedCategories holds just the one category.
type TestMeta struct {
	Mode                 Mode              `json:"mode"`
	RecordID             string            `json:"record_id"`
	PreparedCategories   []string          `json:"prepared_categories"`
	CompletedCategoryIDs []string          `json:"completed_category_ids"`
	CategoryNames        map[string]string `json:"category_names"`
}

// Attempt is one exam-taking instance. The server creates it; the client
// reads the authoritative time/page state exactly once on load and advances
// its own copy afterwards.
type Attempt struct {
	ID               string   `json:"id"`
	SessionToken     string   `json:"session_token"`
	RemainingSeconds int      `json:"remaining_seconds"`
	CurrentPageIndex int      `json:"current_page_index"`
	TotalPages       int      `json:"total_pages"`
	TotalQuestions   int      `json:"total_questions"`
	Pages            []Page   `json:"pages"`
	Category         Category `json:"category"`
	Meta             TestMeta `json:"meta"`
}

// Checkpoint is the carried-forward state handed to the multi-category
// overview when one category finishes or is invalidated mid-run.
type Checkpoint struct {
	RecordID             string            `json:"record_id"`
	CompletedCategoryIDs []string          `json:"completed_category_ids"`
	PreparedCategories   []string          `json:"prepared_categories"`
	CategoryNames        map[string]string `json:"category_names"`
}
