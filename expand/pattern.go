package expand

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// MatchPattern reports whether a single shell glob pattern (*, ?, [...],
// used for pathname expansion and case arms) matches name. Dotfiles only
// match a pattern whose literal text begins with '.', per spec §4.C.
func MatchPattern(pattern, name string) bool {
	if strings.HasPrefix(name, ".") && !strings.HasPrefix(pattern, ".") {
		return false
	}
	return matchTrim(pattern, name)
}

// matchTrim matches a parameter-trim pattern against s; unlike
// MatchPattern it applies no dotfile rule.
func matchTrim(pattern, s string) bool {
	ok, err := filepath.Match(pattern, s)
	return err == nil && ok
}

// TrimPrefixPattern trims the shortest (or longest, if longest is true)
// match of pattern from the start of s, implementing `${NAME#pat}` /
// `${NAME##pat}`.
func TrimPrefixPattern(s, pattern string, longest bool) string {
	best := -1
	for i := 0; i <= len(s); i++ {
		if matchTrim(pattern, s[:i]) {
			best = i
			if !longest {
				break
			}
		}
	}
	if best < 0 {
		return s
	}
	return s[best:]
}

// TrimSuffixPattern implements `${NAME%pat}` / `${NAME%%pat}`.
func TrimSuffixPattern(s, pattern string, longest bool) string {
	best := -1
	if longest {
		for i := 0; i <= len(s); i++ {
			if matchTrim(pattern, s[i:]) {
				best = i
				break
			}
		}
	} else {
		for i := len(s); i >= 0; i-- {
			if matchTrim(pattern, s[i:]) {
				best = i
				break
			}
		}
	}
	if best < 0 {
		return s
	}
	return s[:best]
}

// Glob expands a pathname pattern relative to dir, honoring `**` as a
// recursive-directory wildcard and the dotfile policy from MatchPattern.
// Per spec §4.C, when nothing matches the caller decides (via nullglob)
// whether to keep the literal pattern or drop it; Glob itself always just
// reports what it found, possibly nothing.
func Glob(dir, pattern string) ([]string, error) {
	if !strings.ContainsAny(pattern, "*?[") {
		return nil, nil // not actually a glob; caller keeps the literal word
	}
	abs := pattern
	if !filepath.IsAbs(pattern) {
		abs = filepath.Join(dir, pattern)
	}
	segments := strings.Split(abs, string(filepath.Separator))
	root := string(filepath.Separator)
	matches, err := globSegments(root, segments[1:])
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	if !filepath.IsAbs(pattern) {
		for i, m := range matches {
			rel, err := filepath.Rel(dir, m)
			if err == nil {
				matches[i] = rel
			}
		}
	}
	return matches, nil
}

func globSegments(base string, segs []string) ([]string, error) {
	if len(segs) == 0 {
		return []string{base}, nil
	}
	seg, rest := segs[0], segs[1:]
	if seg == "**" {
		var out []string
		dirs, err := allDirsRecursive(base)
		if err != nil {
			return nil, err
		}
		for _, d := range dirs {
			sub, err := globSegments(d, rest)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
		return out, nil
	}
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, nil // unreadable directory yields no matches, not a fatal error
	}
	var out []string
	for _, ent := range entries {
		if !MatchPattern(seg, ent.Name()) {
			continue
		}
		full := filepath.Join(base, ent.Name())
		if len(rest) == 0 {
			out = append(out, full)
			continue
		}
		if !ent.IsDir() {
			continue
		}
		sub, err := globSegments(full, rest)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return out, nil
}

func allDirsRecursive(base string) ([]string, error) {
	dirs := []string{base}
	entries, err := os.ReadDir(base)
	if err != nil {
		return dirs, nil
	}
	for _, ent := range entries {
		if ent.IsDir() && !strings.HasPrefix(ent.Name(), ".") {
			sub, err := allDirsRecursive(filepath.Join(base, ent.Name()))
			if err != nil {
				return nil, err
			}
			dirs = append(dirs, sub...)
		}
	}
	return dirs, nil
}
