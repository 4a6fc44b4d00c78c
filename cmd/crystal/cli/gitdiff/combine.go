package gitdiff

// Combine merges an ordered list of diff results into one aggregate: stats
// are summed field-wise, changed files are unioned preserving first-seen
// order, and diff text is concatenated in input order. Entries with empty
// diff text are excluded before combination, so a combination of clean
// results is itself a clean result.
//
// Combine is associative over concatenation and summation: combining partial
// aggregates agrees with combining the full list.
func Combine(diffs []*Result) *Result {
	combined := &Result{}
	seen := make(map[string]bool)

	for _, d := range diffs {
		if d == nil || d.Diff == "" {
			continue
		}
		if combined.BeforeHash == "" {
			combined.BeforeHash = d.BeforeHash
		}
		combined.AfterHash = d.AfterHash

		combined.Diff += d.Diff
		combined.Stats.Additions += d.Stats.Additions
		combined.Stats.Deletions += d.Stats.Deletions

		for _, f := range d.ChangedFiles {
			if !seen[f] {
				seen[f] = true
				combined.ChangedFiles = append(combined.ChangedFiles, f)
			}
		}
	}

	combined.Stats.FilesChanged = len(combined.ChangedFiles)
	return combined
}
