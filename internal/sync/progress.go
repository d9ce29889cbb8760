package sync

// Phase describes the current sync phase.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseDiscovering Phase = "discovering"
	PhaseSyncing     Phase = "syncing"
	PhaseDone        Phase = "done"
)

// Progress reports sync progress to listeners. CurrentGroup is the
// user directory being processed; it is empty in the first syncing
// update, which only announces the totals.
type Progress struct {
	Phase        Phase  `json:"phase"`
	CurrentGroup string `json:"current_group,omitempty"`
	GroupFiles   int    `json:"group_files"`
	GroupsTotal  int    `json:"groups_total"`
	GroupsDone   int    `json:"groups_done"`
	FilesTotal   int    `json:"files_total"`
	FilesDone    int    `json:"files_done"`
}

// Action is what happened to one destination copy of a file.
type Action string

const (
	ActionAdded     Action = "added"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
)

// WriteResult describes one writable root after a merge.
type WriteResult struct {
	Root   string `json:"root"`
	Action Action `json:"action"`
}

// FileResult describes the outcome of merging one logical file.
type FileResult struct {
	RelPath string        `json:"rel_path"`
	Skipped bool          `json:"skipped"`
	Entries int           `json:"entries"`
	Writes  []WriteResult `json:"writes,omitempty"`
}

// Changed reports whether any destination was added or updated.
func (r FileResult) Changed() bool {
	for _, w := range r.Writes {
		if w.Action != ActionUnchanged {
			return true
		}
	}
	return false
}

// SyncStats summarizes a sync run.
//
// Skipped counts files not merged at all (identical sizes
// everywhere, or absent from every readable root). Updated counts
// files with at least one destination added or rewritten; Writes
// counts those destinations. In a dry run nothing is written but
// the counters reflect what would have been.
type SyncStats struct {
	Total     int `json:"total"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Writes    int `json:"writes"`
}

// RecordSkip increments the skipped file counter.
func (s *SyncStats) RecordSkip() {
	s.Skipped++
}

// RecordFailed increments the hard-failure counter.
func (s *SyncStats) RecordFailed() {
	s.Failed++
}

// RecordResult counts a merged file by its outcome.
func (s *SyncStats) RecordResult(r FileResult) {
	if r.Skipped {
		s.RecordSkip()
		return
	}
	for _, w := range r.Writes {
		if w.Action != ActionUnchanged {
			s.Writes++
		}
	}
	if r.Changed() {
		s.Updated++
	} else {
		s.Unchanged++
	}
}

// Percent returns the sync progress as a percentage (0–100).
func (p Progress) Percent() float64 {
	if p.FilesTotal == 0 {
		return 0
	}
	return float64(p.FilesDone) /
		float64(p.FilesTotal) * 100
}

// ProgressFunc is called with progress updates during sync.
type ProgressFunc func(Progress)
