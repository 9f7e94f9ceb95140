package grading

import (
	"regexp"
	"strings"
	"sync"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/model"
)

// Grade reports whether submitted is an accepted answer for ch.
//
// The canonical flag is compared first. If that fails and the challenge carries a
// pattern rule, the pattern is tried with the challenge's case sensitivity. A pattern
// that does not compile never matches.
func Grade(ch *model.Challenge, submitted string) bool {
	if ch == nil {
		return false
	}

	flag := ch.Flag
	answer := strings.TrimSpace(submitted)
	if answer == "" {
		return false
	}

	if !ch.CaseSensitive {
		flag = strings.ToLower(flag)
		answer = strings.ToLower(answer)
	}

	if flag != "" && flag == answer {
		return true
	}

	if ch.FlagRegex == "" {
		return false
	}

	re := patterns.get(ch.FlagRegex, ch.CaseSensitive)
	if re == nil {
		return false
	}
	return re.MatchString(answer)
}

type patternKey struct {
	expr          string
	caseSensitive bool
}

// patternCache memoises compiled pattern rules. A nil entry records a rule that
// failed to compile so it is not recompiled on every attempt.
type patternCache struct {
	mu      sync.RWMutex
	entries map[patternKey]*regexp.Regexp
}

var patterns = &patternCache{entries: make(map[patternKey]*regexp.Regexp)}

func (c *patternCache) get(expr string, caseSensitive bool) *regexp.Regexp {
	key := patternKey{expr: expr, caseSensitive: caseSensitive}

	c.mu.RLock()
	re, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return re
	}

	src := expr
	if !caseSensitive {
		src = "(?i)" + expr
	}
	re, err := regexp.Compile(src)
	if err != nil {
		re = nil
	}

	c.mu.Lock()
	c.entries[key] = re
	c.mu.Unlock()
	return re
}
