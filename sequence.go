package blenddeps

import (
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Sequence-capable paths come in two pattern families: a UDIM tile
// placeholder (the literal "<UDIM>" token, or a concrete first-tile number
// in 1001–2000 for tiled image sources) and a frame number (the last run of
// digits in the base name). Expansion enumerates the matching files of one
// directory; a pattern that matches nothing keeps the original record.

const udimToken = "<UDIM>"

// sequencePattern compiles the base-name pattern for a sequence path.
// Returns nil when the name contains nothing to vary.
func sequencePattern(base string, tiled bool) *regexp.Regexp {
	if i := strings.Index(base, udimToken); i >= 0 {
		return regexp.MustCompile("^" +
			regexp.QuoteMeta(base[:i]) + `\d{4}` + regexp.QuoteMeta(base[i+len(udimToken):]) + "$")
	}
	if tiled {
		if lo, hi, ok := findUDIMTile(base); ok {
			return regexp.MustCompile("^" +
				regexp.QuoteMeta(base[:lo]) + `\d{4}` + regexp.QuoteMeta(base[hi:]) + "$")
		}
	}
	if lo, hi, ok := lastDigitRun(base); ok {
		return regexp.MustCompile("^" +
			regexp.QuoteMeta(base[:lo]) + `\d+` + regexp.QuoteMeta(base[hi:]) + "$")
	}
	return nil
}

// findUDIMTile locates a 4-digit run whose value is a legal first tile
// number (1001–2000).
func findUDIMTile(base string) (int, int, bool) {
	for lo := 0; lo < len(base); {
		if base[lo] < '0' || base[lo] > '9' {
			lo++
			continue
		}
		hi := lo
		for hi < len(base) && base[hi] >= '0' && base[hi] <= '9' {
			hi++
		}
		if hi-lo == 4 {
			if v, err := strconv.Atoi(base[lo:hi]); err == nil && v >= 1001 && v <= 2000 {
				return lo, hi, true
			}
		}
		lo = hi
	}
	return 0, 0, false
}

func lastDigitRun(base string) (int, int, bool) {
	hi := -1
	for i := len(base) - 1; i >= 0; i-- {
		c := base[i]
		if c >= '0' && c <= '9' {
			if hi < 0 {
				hi = i + 1
			}
		} else if hi >= 0 {
			return i + 1, hi, true
		}
	}
	if hi >= 0 {
		return 0, hi, true
	}
	return 0, 0, false
}

// expandSequence replaces one sequence-flagged usage with a record per
// matching on-disk file, preserving the original field path as provenance.
// No match is never fatal: the unexpanded record is kept and a warning
// logged.
func (r *traceRun) expandSequence(u *Usage) bool {
	dir, base := filepath.Split(u.AbsPath)
	pat := sequencePattern(base, u.tiled)
	var matches []string
	if pat != nil {
		entries, err := os.ReadDir(filepath.Clean(dir))
		if err == nil {
			for _, ent := range entries {
				if !ent.IsDir() && pat.MatchString(ent.Name()) {
					matches = append(matches, ent.Name())
				}
			}
		}
	}
	if len(matches) == 0 {
		r.f.logger.Warn("blenddeps: sequence pattern matched no files",
			slog.String("path", u.AbsPath), slog.String("block", u.Code))
		return r.yield(u)
	}
	for _, name := range matches {
		v := *u
		v.AbsPath = filepath.Join(filepath.Clean(dir), name)
		if !r.yield(&v) {
			return false
		}
	}
	return true
}
