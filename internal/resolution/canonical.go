// Package resolution implements the entity resolution pipeline: surface-form
// canonicalization, homonym context bucketing, merge candidate generation,
// optional verifier escalation, union-find clustering, and merge
// materialization.
//
// A Resolver processes one project at a time; concurrent runs on the same
// project must be serialized by the caller (see the redis project lock used
// by the worker).  All state accumulated during a pass lives in explicit
// per-run objects, never in package-level variables.
package resolution

import (
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// acronymPattern matches "Long Form (ACR)" trailing-parenthetical mentions,
// the form academic writing uses to introduce an abbreviation.
var acronymPattern = regexp.MustCompile(`^(.+?)\s*\(([A-Za-z][A-Za-z.\-]{1,9})\)$`)

// stopwords are skipped when matching an acronym against word initials, so
// "CNN" validates against "convolutional neural network" as well as
// "network of convolutional neurons".
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "for": true, "in": true,
	"of": true, "on": true, "the": true, "to": true, "with": true,
}

// Canonicalizer normalizes raw entity names to comparable surface forms and
// accumulates an acronym→long-form table learned from the names it sees.
// One Canonicalizer serves one resolution pass; documents processed in
// parallel share it under the internal mutex.
//
// Canonicalize never fails: names that normalize to nothing return the empty
// string, and the resolver drops them upstream.
type Canonicalizer struct {
	mu       sync.Mutex
	acronyms map[string]string // normalized acronym → normalized long form
	synonyms map[string]string // caller-supplied normalized form → canonical form
}

// NewCanonicalizer constructs a Canonicalizer with an optional caller-
// supplied synonym/disambiguation table.  Table keys and values are
// normalized on ingestion so lookups are insensitive to case and
// punctuation.
func NewCanonicalizer(synonyms map[string]string) *Canonicalizer {
	c := &Canonicalizer{
		acronyms: make(map[string]string),
		synonyms: make(map[string]string, len(synonyms)),
	}
	for k, v := range synonyms {
		nk, nv := normalize(k), normalize(v)
		if nk != "" && nv != "" {
			c.synonyms[nk] = nv
		}
	}
	return c
}

// Canonicalize maps a raw name to its canonical surface form:
//
//  1. Detect a "Long Form (ACR)" pattern, validate it, and learn the
//     acronym mapping; the long form becomes the working name.
//  2. Normalize: lowercase, strip punctuation and separators, collapse
//     whitespace, fold a trailing plural.
//  3. Expand through the learned acronym table.
//  4. Apply the caller-supplied synonym table.
func (c *Canonicalizer) Canonicalize(raw string) string {
	name := strings.TrimSpace(raw)
	if name == "" {
		return ""
	}

	if m := acronymPattern.FindStringSubmatch(name); m != nil {
		long, acr := normalize(m[1]), normalize(m[2])
		if long != "" && acr != "" && validAcronym(acr, long) {
			c.mu.Lock()
			if _, exists := c.acronyms[acr]; !exists {
				c.acronyms[acr] = long
			}
			c.mu.Unlock()
		}
		name = m[1]
	}

	normalized := normalize(name)
	if normalized == "" {
		return ""
	}

	c.mu.Lock()
	if long, ok := c.acronyms[normalized]; ok {
		normalized = long
	}
	c.mu.Unlock()

	if canonical, ok := c.synonyms[normalized]; ok {
		return canonical
	}
	return normalized
}

// LearnedAcronyms returns a copy of the acronym table accumulated so far.
func (c *Canonicalizer) LearnedAcronyms() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.acronyms))
	for k, v := range c.acronyms {
		out[k] = v
	}
	return out
}

// normalize lowercases, replaces punctuation that separates words with
// spaces, deletes punctuation that joins letters (periods in "G.C.N."),
// collapses whitespace, and folds a trailing plural on the last word.
func normalize(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
		case r == '.' || r == '\'':
			// Joining punctuation: delete so "G.C.N." folds to "gcn".
		default:
			sb.WriteByte(' ')
		}
	}
	fields := strings.Fields(sb.String())
	if len(fields) == 0 {
		return ""
	}
	last := fields[len(fields)-1]
	fields[len(fields)-1] = singular(last)
	return strings.Join(fields, " ")
}

// singular folds a naive trailing plural: "networks" → "network".  Words
// ending in "ss", "us", or "is" are left alone.
func singular(w string) string {
	if len(w) > 3 && strings.HasSuffix(w, "s") &&
		!strings.HasSuffix(w, "ss") && !strings.HasSuffix(w, "us") && !strings.HasSuffix(w, "is") {
		return w[:len(w)-1]
	}
	return w
}

// validAcronym reports whether acr is a plausible abbreviation of long:
// either its letters match the word initials of long (stopwords optional),
// or long is a single word that starts with acr.
func validAcronym(acr, long string) bool {
	words := strings.Fields(long)
	if len(words) == 1 {
		return len(acr) >= 2 && strings.HasPrefix(words[0], acr)
	}

	letters := make([]byte, 0, len(acr))
	for i := 0; i < len(acr); i++ {
		if acr[i] >= 'a' && acr[i] <= 'z' {
			letters = append(letters, acr[i])
		}
	}
	if len(letters) < 2 {
		return false
	}
	return matchesInitials(letters, words, false) || matchesInitials(letters, words, true)
}

// matchesInitials checks acronym letters against the first letter of each
// word, optionally skipping stopwords.
func matchesInitials(letters []byte, words []string, skipStop bool) bool {
	initials := make([]byte, 0, len(words))
	for _, w := range words {
		if skipStop && stopwords[w] {
			continue
		}
		initials = append(initials, w[0])
	}
	if len(initials) != len(letters) {
		return false
	}
	for i := range letters {
		if letters[i] != initials[i] {
			return false
		}
	}
	return true
}

// initialism returns the word-initial letters of a normalized multi-word
// name ("graph convolutional network" → "gcn"), or "" for single words.
// Candidate generation uses it to match short acronym-like names against
// their spelled-out forms without a learned mapping.
func initialism(normalized string) string {
	words := strings.Fields(normalized)
	if len(words) < 2 {
		return ""
	}
	b := make([]byte, 0, len(words))
	for _, w := range words {
		b = append(b, w[0])
	}
	return string(b)
}
