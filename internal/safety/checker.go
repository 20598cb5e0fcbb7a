// Package safety classifies script payloads before they reach a live page.
// The check is pure and line-based: each non-comment line is matched against
// a fixed catalog of dangerous and allowed patterns.
package safety

import (
	"regexp"
	"sort"
	"strings"
)

// RiskLevel grades a single finding or a whole verdict.
type RiskLevel string

const (
	LevelLow    RiskLevel = "low"
	LevelMedium RiskLevel = "medium"
	LevelHigh   RiskLevel = "high"
)

// Risk is one matched dangerous pattern.
type Risk struct {
	Type        string    `json:"type"`
	Level       RiskLevel `json:"level"`
	Description string    `json:"description"`
	Line        int       `json:"line"`
	Pattern     string    `json:"pattern"`
}

// Verdict is the outcome of a safety check.
type Verdict struct {
	Level             RiskLevel `json:"level"`
	Score             int       `json:"score"`
	Risks             []Risk    `json:"risks"`
	AllowedOperations []string  `json:"allowed_operations"`
	BlockedOperations []string  `json:"blocked_operations"`
	SafeToRun         bool      `json:"safe_to_run"`
	Recommendations   []string  `json:"recommendations"`
}

type dangerClass struct {
	name        string
	level       RiskLevel
	description string
	patterns    []*regexp.Regexp
}

type allowClass struct {
	name     string
	patterns []*regexp.Regexp
}

func mustAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile("(?i)"+e))
	}
	return out
}

var dangerous = []dangerClass{
	{
		name:        "fs_access",
		level:       LevelHigh,
		description: "filesystem access",
		patterns:    mustAll(`\bfs\.`, `\brequire\s*\(\s*["']fs`, `\bimport\s+.*fs`),
	},
	{
		name:        "network_request",
		level:       LevelHigh,
		description: "arbitrary network request",
		patterns:    mustAll(`\bfetch\s*\(`, `\bXMLHttpRequest`, `\baxios\.`, `\.get\s*\(`, `\.post\s*\(`),
	},
	{
		name:        "process_execution",
		level:       LevelHigh,
		description: "process or dynamic code execution",
		patterns:    mustAll(`\bchild_process`, `\bexec\s*\(`, `\bspawn\s*\(`, `\beval\s*\(`, `\bFunction\s*\(`),
	},
	{
		name:        "system_info",
		level:       LevelMedium,
		description: "system information access",
		patterns:    mustAll(`\bos\.`, `\bprocess\.`, `\bnavigator\.`, `\bwindow\.location`),
	},
	{
		name:        "dom_manipulation",
		level:       LevelMedium,
		description: "raw DOM content mutation",
		patterns:    mustAll(`\binnerHTML\s*=`, `\bouterHTML\s*=`, `\bdocument\.write`),
	},
	{
		name:        "infinite_loop",
		level:       LevelHigh,
		description: "potential infinite loop",
		patterns:    mustAll(`while\s*\(\s*true\s*\)`, `for\s*\(\s*;;\s*\)`, `while\s*\(\s*1\s*\)`),
	},
	{
		name:        "global_modification",
		level:       LevelMedium,
		description: "global state mutation",
		patterns:    mustAll(`window\.\w+\s*=`, `global\.\w+\s*=`, `\bObject\.defineProperty`),
	},
}

var allowed = []allowClass{
	{"dom_selection", mustAll(`\bquerySelector`, `\bgetElementById`, `\bgetElementsBy`, `\bquerySelectorAll`)},
	{"dom_interaction", mustAll(`\bclick\s*\(`, `\bfocus\s*\(`, `\bblur\s*\(`, `\bscroll`, `\bscrollTo`)},
	{"input_simulation", mustAll(`\bvalue\s*=`, `\bdispatchEvent`, `\bcreateEvent`)},
	{"data_processing", mustAll(`\bconsole\.`, `\bMath\.`, `\bArray\.`, `\bString\.`, `\bObject\.`)},
	{"timing", mustAll(`\bsetTimeout`, `\bsetInterval`, `\bPromise`, `\basync`, `\bawait`)},
	{"page_navigation", mustAll(`\blocation\.href`, `\bhistory\.`, `\bwindow\.open`)},
}

var riskPenalty = map[RiskLevel]int{
	LevelLow:    10,
	LevelMedium: 30,
	LevelHigh:   60,
}

// maxLines bounds the per-call work so one huge payload cannot stall a
// dispatch task.
const maxLines = 2000

// Check inspects code line by line and returns the verdict. In strict mode
// any medium risk blocks execution.
func Check(code string, strict bool) Verdict {
	var risks []Risk
	allowedSet := map[string]struct{}{}
	blockedSet := map[string]struct{}{}

	lines := strings.Split(code, "\n")
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}

	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "//") || strings.HasPrefix(line, "/*") {
			continue
		}

		for _, class := range dangerous {
			for _, re := range class.patterns {
				if re.MatchString(line) {
					risks = append(risks, Risk{
						Type:        class.name,
						Level:       class.level,
						Description: class.description,
						Line:        i + 1,
						Pattern:     re.String(),
					})
					blockedSet[class.description] = struct{}{}
				}
			}
		}

		for _, class := range allowed {
			for _, re := range class.patterns {
				if re.MatchString(line) {
					allowedSet[class.name] = struct{}{}
					break
				}
			}
		}
	}

	level, score := grade(risks, strict)

	return Verdict{
		Level:             level,
		Score:             score,
		Risks:             risks,
		AllowedOperations: sortedKeys(allowedSet),
		BlockedOperations: sortedKeys(blockedSet),
		SafeToRun:         level == LevelLow || (!strict && level == LevelMedium && score >= 60),
		Recommendations:   recommend(risks),
	}
}

func grade(risks []Risk, strict bool) (RiskLevel, int) {
	if len(risks) == 0 {
		return LevelLow, 100
	}

	score := 100
	for _, r := range risks {
		penalty, ok := riskPenalty[r.Level]
		if !ok {
			penalty = riskPenalty[LevelMedium]
		}
		score -= penalty
	}

	var level RiskLevel
	switch {
	case score >= 80:
		level = LevelLow
	case score >= 50:
		level = LevelMedium
	default:
		level = LevelHigh
	}

	if strict && score < 90 {
		if score >= 70 {
			level = LevelMedium
		} else {
			level = LevelHigh
		}
	}

	if score < 0 {
		score = 0
	}
	return level, score
}

var adviceByType = map[string]string{
	"fs_access":           "avoid filesystem operations; use browser APIs for data handling",
	"network_request":     "avoid direct network requests; drive the page's own interfaces",
	"process_execution":   "eval and the Function constructor are not permitted",
	"system_info":         "limit system information access to what the page operation needs",
	"dom_manipulation":    "prefer textContent over innerHTML for content updates",
	"infinite_loop":       "loops need an explicit exit condition",
	"global_modification": "keep state in local scope instead of mutating globals",
}

func recommend(risks []Risk) []string {
	if len(risks) == 0 {
		return []string{"code passed the safety check"}
	}

	seen := map[string]struct{}{}
	var out []string
	for _, r := range risks {
		if _, ok := seen[r.Type]; ok {
			continue
		}
		seen[r.Type] = struct{}{}
		if advice, ok := adviceByType[r.Type]; ok {
			out = append(out, advice)
		}
	}
	out = append(out, "run scripts with a bounded execution timeout")
	return out
}

// Sanitize marks obviously dangerous call sites without altering program
// structure. It is a lint aid, not a security boundary.
func Sanitize(code string) string {
	for _, call := range []string{"eval", "Function", "require"} {
		re := regexp.MustCompile(`\b` + call + `\(`)
		code = re.ReplaceAllString(code, "/* blocked */ "+call+"(")
	}
	return code
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
