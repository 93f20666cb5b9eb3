package l10n

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
)

const (
	// BranchSeparator joins a resource slug and a branch name into a
	// branch-qualified slug. It must not appear in slugs or branch names.
	BranchSeparator = "_B_"

	// LangPlaceholder marks the language segment of a translation file template.
	LangPlaceholder = "<lang>"

	// LocalePattern is substituted for LangPlaceholder when building a matcher
	// that recognizes any translation file of a resource.
	LocalePattern = "([^/]+)"

	// DefaultBranch is used when a project does not configure one.
	DefaultBranch = "master"

	// SlashEscape replaces "/" in branch names, which Transifex slugs cannot
	// carry. Branch names containing it literally cannot be round-tripped.
	SlashEscape = "_S_"
)

// Resource describes one localizable asset and where it lives on both sides.
type Resource struct {
	ProjectSlug     string
	ResourceSlug    string
	Type            string
	SourceLang      string
	SourceFile      string
	TranslationFile string
	LanguageMap     LanguageMap

	// DefaultBranch is the branch that maps to the bare resource slug.
	DefaultBranch string
}

// LanguageMap maps Transifex language codes to repository language codes.
type LanguageMap map[string]string

// ParseLanguageMap parses the "code:code[,code:code...]" configuration form.
// An empty string yields an empty map.
func ParseLanguageMap(s string) (LanguageMap, error) {
	m := make(LanguageMap)
	if strings.TrimSpace(s) == "" {
		return m, nil
	}
	for _, entry := range strings.Split(s, ",") {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		from, to, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("invalid language map entry %q: expected from:to", entry)
		}
		from, to = strings.TrimSpace(from), strings.TrimSpace(to)
		if from == "" || to == "" {
			return nil, fmt.Errorf("invalid language map entry %q: empty code", entry)
		}
		m[from] = to
	}
	return m, nil
}

// Lookup returns the mapped code and whether the map had an entry for it.
func (m LanguageMap) Lookup(code string) (string, bool) {
	v, ok := m[code]
	return v, ok
}

// ReverseLookup returns the Transifex code whose mapped value is code. When
// several codes map to the same value, the lexically smallest one wins.
func (m LanguageMap) ReverseLookup(code string) (string, bool) {
	for _, from := range slices.Sorted(maps.Keys(m)) {
		if m[from] == code {
			return from, true
		}
	}
	return "", false
}

// TranslationPath substitutes code for the language placeholder in the
// translation file template.
func (r *Resource) TranslationPath(code string) string {
	return strings.ReplaceAll(r.TranslationFile, LangPlaceholder, code)
}

// TranslationMatcher compiles a matcher recognizing any translation file of
// the resource. The literal parts of the template are quoted, so only the
// placeholder acts as a wildcard.
func (r *Resource) TranslationMatcher() (*Matcher, error) {
	if !strings.Contains(r.TranslationFile, LangPlaceholder) {
		return nil, fmt.Errorf("translation file %q of resource %s has no %s placeholder",
			r.TranslationFile, r.ResourceSlug, LangPlaceholder)
	}
	parts := strings.Split(r.TranslationFile, LangPlaceholder)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, LocalePattern) + "$")
	if err != nil {
		return nil, fmt.Errorf("compile translation matcher for %s: %w", r.ResourceSlug, err)
	}
	return &Matcher{re: re}, nil
}

// Slug returns the branch-qualified resource slug. The default branch (and
// an empty branch) maps to the bare slug.
func (r *Resource) Slug(branch string) string {
	def := r.DefaultBranch
	if def == "" {
		def = DefaultBranch
	}
	if branch == "" || branch == def {
		return r.ResourceSlug
	}
	return r.ResourceSlug + BranchSeparator + EscapeBranch(branch)
}

// String identifies the resource in logs and errors.
func (r *Resource) String() string {
	return r.ProjectSlug + "/" + r.ResourceSlug
}

// SplitSlug splits a possibly branch-qualified slug into its base slug and
// branch. Names without the separator belong to defaultBranch.
func SplitSlug(name, defaultBranch string) (slug, branch string) {
	base, escaped, ok := strings.Cut(name, BranchSeparator)
	if !ok {
		return name, defaultBranch
	}
	return base, UnescapeBranch(escaped)
}

// ValidateBranch rejects branch names that cannot be encoded into a slug and
// recovered by SplitSlug.
func ValidateBranch(branch string) error {
	for _, token := range []string{BranchSeparator, SlashEscape} {
		if strings.Contains(branch, token) {
			return fmt.Errorf("branch %q must not contain %q", branch, token)
		}
	}
	return nil
}

// EscapeBranch makes a branch name safe for use inside a Transifex slug.
func EscapeBranch(branch string) string {
	return strings.ReplaceAll(branch, "/", SlashEscape)
}

// UnescapeBranch reverses EscapeBranch.
func UnescapeBranch(escaped string) string {
	return strings.ReplaceAll(escaped, SlashEscape, "/")
}

// Matcher recognizes translation files of one resource in a tree listing.
type Matcher struct {
	re *regexp.Regexp
}

// Match reports whether path is a translation file and returns the language
// code captured from it.
func (m *Matcher) Match(path string) (string, bool) {
	sub := m.re.FindStringSubmatch(path)
	if sub == nil {
		return "", false
	}
	// Templates with the placeholder repeated must capture the same code.
	for _, s := range sub[2:] {
		if s != sub[1] {
			return "", false
		}
	}
	return sub[1], true
}
