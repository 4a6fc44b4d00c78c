// Package redact scrubs secrets from text before it is persisted to Crystal
// state files. Diff records and prompts may carry API keys or tokens that the
// agent touched; they are replaced with "REDACTED" using layered detection:
//
//  1. Entropy-based: high-entropy alphanumeric sequences (threshold 4.5)
//  2. Pattern-based: gitleaks regex rules (180+ known secret formats)
//
// A string is redacted if either method flags it.
package redact

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// secretPattern matches high-entropy strings that may be secrets.
var secretPattern = regexp.MustCompile(`[A-Za-z0-9/+_=-]{10,}`)

// entropyThreshold is the minimum Shannon entropy for a string to be
// considered a secret. High enough to avoid false positives on common words
// and identifiers, low enough to catch typical API keys and tokens which
// tend to have entropy well above 5.0. Hex strings such as commit hashes
// stay below it (16 symbols cap their entropy at 4.0).
const entropyThreshold = 4.5

const placeholder = "REDACTED"

var (
	gitleaksDetector     *detect.Detector
	gitleaksDetectorOnce sync.Once
)

func getDetector() *detect.Detector {
	gitleaksDetectorOnce.Do(func() {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			return
		}
		gitleaksDetector = d
	})
	return gitleaksDetector
}

// region is a byte range to redact.
type region struct{ start, end int }

// String replaces detected secrets in s with the redaction placeholder.
func String(s string) string {
	regions := findSecretRegions(s)
	if len(regions) == 0 {
		return s
	}

	var b strings.Builder
	prev := 0
	for _, r := range mergeRegions(regions) {
		b.WriteString(s[prev:r.start])
		b.WriteString(placeholder)
		prev = r.end
	}
	b.WriteString(s[prev:])
	return b.String()
}

// Patch redacts a unified diff while leaving its structure intact. Metadata
// lines (file headers, hunk markers, index lines) are passed through
// untouched so the patch still parses; only content lines are scanned.
func Patch(patch string) string {
	if patch == "" {
		return patch
	}

	lines := strings.Split(patch, "\n")
	changed := false
	for i, line := range lines {
		if isPatchMetadata(line) {
			continue
		}
		redacted := String(line)
		if redacted != line {
			lines[i] = redacted
			changed = true
		}
	}
	if !changed {
		return patch
	}
	return strings.Join(lines, "\n")
}

func isPatchMetadata(line string) bool {
	for _, prefix := range []string{"diff --git ", "index ", "--- ", "+++ ", "@@ ", "new file mode", "deleted file mode", "similarity index", "rename from", "rename to", "Binary files"} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// findSecretRegions collects byte ranges flagged by either detection layer.
func findSecretRegions(s string) []region {
	var regions []region

	for _, loc := range secretPattern.FindAllStringIndex(s, -1) {
		if shannonEntropy(s[loc[0]:loc[1]]) > entropyThreshold {
			regions = append(regions, region{loc[0], loc[1]})
		}
	}

	if d := getDetector(); d != nil {
		for _, f := range d.DetectString(s) {
			if f.Secret == "" {
				continue
			}
			searchFrom := 0
			for {
				idx := strings.Index(s[searchFrom:], f.Secret)
				if idx < 0 {
					break
				}
				absIdx := searchFrom + idx
				regions = append(regions, region{absIdx, absIdx + len(f.Secret)})
				searchFrom = absIdx + len(f.Secret)
			}
		}
	}

	return regions
}

// mergeRegions sorts and coalesces overlapping ranges.
func mergeRegions(regions []region) []region {
	sort.Slice(regions, func(i, j int) bool {
		return regions[i].start < regions[j].start
	})
	merged := []region{regions[0]}
	for _, r := range regions[1:] {
		last := &merged[len(merged)-1]
		if r.start <= last.end {
			if r.end > last.end {
				last.end = r.end
			}
		} else {
			merged = append(merged, r)
		}
	}
	return merged
}

func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	freq := make(map[byte]int)
	for i := range len(s) {
		freq[s[i]]++
	}
	length := float64(len(s))
	var entropy float64
	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}
