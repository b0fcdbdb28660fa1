package release

import (
	"regexp"
	"sort"
	"strings"
)

// Text applies the index metadata defaulting rule: the empty string and the
// literal placeholders "UNKNOWN" and "None" mean "absent".
func Text(s string) string {
	if s == "" || s == "UNKNOWN" || s == "None" {
		return ""
	}
	return s
}

// uriLabels maps the fixed single-URI metadata fields to their warehouse
// labels.
var uriLabels = map[string]string{
	"bugtrack_url": "Bug tracker",
	"home_page":    "Home page",
	"download_url": "Download",
	"docs_url":     "Documentation",
}

// Normalize builds a Release from a raw release_data record and the files
// already fetched for it. Raw values arrive as the RPC codec decoded them
// (string, int64, bool, []any); unknown keys are ignored.
func Normalize(raw map[string]any, files []File) *Release {
	r := &Release{
		Name:    text(raw, "name"),
		Version: text(raw, "version"),

		Summary:     text(raw, "summary"),
		Description: text(raw, "description"),
		License:     text(raw, "license"),

		Author:          text(raw, "author"),
		AuthorEmail:     text(raw, "author_email"),
		Maintainer:      text(raw, "maintainer"),
		MaintainerEmail: text(raw, "maintainer_email"),

		RequiresPython: text(raw, "requires_python"),

		URIs: map[string]string{},

		Files: files,
	}

	r.Classifiers = sortedUnique(stringList(raw["classifiers"]))
	r.Keywords = splitKeywords(text(raw, "keywords"))
	r.Platforms = stringList(raw["platform"])
	r.SupportedPlatforms = stringList(raw["supported_platforms"])
	r.RequiresExternal = stringList(raw["requires_external"])

	for key, label := range uriLabels {
		if uri := text(raw, key); uri != "" {
			if cleaned, err := CleanURL(uri); err == nil {
				r.URIs[label] = cleaned
			}
		}
	}

	// project_url entries are "label,uri" strings; the label may not
	// contain a comma, the URI may. Whitespace around either part is
	// dropped.
	for _, entry := range stringList(raw["project_url"]) {
		label, uri, ok := strings.Cut(entry, ",")
		if !ok {
			continue
		}
		if cleaned, err := CleanURL(strings.TrimSpace(uri)); err == nil {
			r.URIs[strings.TrimSpace(label)] = cleaned
		}
	}

	r.Requires = parseDependencies(stringList(raw["requires_dist"]))
	r.Provides = parseDependencies(stringList(raw["provides_dist"]))
	r.Obsoletes = parseDependencies(stringList(raw["obsoletes_dist"]))

	// The index has no creation timestamp for a release; the earliest file
	// upload is the best available guess.
	for i := range files {
		t := files[i].UploadTime
		if r.Created == nil || t.Before(*r.Created) {
			created := t
			r.Created = &created
		}
	}

	return r
}

// text fetches a string field from a raw record with the defaulting rule
// applied. Non-string values count as absent.
func text(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return Text(s)
}

// stringList coerces a raw value that may be a scalar, a sequence, or
// absent into a slice of non-placeholder strings.
func stringList(v any) []string {
	var out []string
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if s := Text(t); s != "" {
			out = append(out, s)
		}
	case []string:
		for _, e := range t {
			if s := Text(e); s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, e := range t {
			if s, ok := e.(string); ok {
				if s = Text(s); s != "" {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

// sortedUnique deduplicates and sorts a string slice ascending.
func sortedUnique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// splitKeywords splits a keyword string on commas when any are present,
// otherwise on whitespace, trimming each token.
func splitKeywords(s string) []string {
	if s == "" {
		return nil
	}

	var parts []string
	if strings.Contains(s, ",") {
		parts = strings.Split(s, ",")
	} else {
		parts = strings.Fields(s)
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// versionCapture splits "name (version-predicate)" with the predicate
// optional.
var versionCapture = regexp.MustCompile(`^(.*?)\s*(?:\(([^()]+)\))?$`)

// ParseDependency parses a requires_dist-style element of the form
// "name (version-predicate) ; environment-marker" where both the predicate
// and the marker are optional.
func ParseDependency(meta string) Dependency {
	spec, env, _ := strings.Cut(meta, ";")

	var d Dependency
	d.Environment = strings.TrimSpace(env)

	m := versionCapture.FindStringSubmatch(strings.TrimSpace(spec))
	if m == nil {
		d.Name = strings.TrimSpace(spec)
		return d
	}
	d.Name = m[1]
	d.Version = m[2]
	return d
}

func parseDependencies(in []string) []Dependency {
	if len(in) == 0 {
		return nil
	}
	out := make([]Dependency, len(in))
	for i, s := range in {
		out[i] = ParseDependency(s)
	}
	return out
}
