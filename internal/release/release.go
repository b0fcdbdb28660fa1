// Package release holds the internal model of an index release and its
// distribution files, the normalizer that builds that model from raw index
// records, and the content fingerprint used for change detection.
package release

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"
)

// TimeLayout is the ISO-8601 form timestamps take in serialized records.
// The index reports second precision.
const TimeLayout = "2006-01-02T15:04:05"

// Dependency is one parsed element of requires_dist / provides_dist /
// obsoletes_dist: a distribution name, an optional version predicate, and
// an optional environment marker.
type Dependency struct {
	Name        string
	Version     string
	Environment string
}

// File is a single distribution file attached to a release.
type File struct {
	Filename      string
	Type          string // packagetype
	PythonVersion string
	Comment       string
	UploadTime    time.Time
	Data          []byte

	// Index bookkeeping, needed for fetching and verification but excluded
	// from the serialized (fingerprinted) state.
	URL       string
	MD5Digest string
	HasSig    bool
	Size      int64
	Downloads int64
}

// MD5 returns the hex MD5 digest of the file contents.
func (f *File) MD5() string {
	sum := md5.Sum(f.Data)
	return hex.EncodeToString(sum[:])
}

// SHA256 returns the hex SHA-256 digest of the file contents.
func (f *File) SHA256() string {
	sum := sha256.Sum256(f.Data)
	return hex.EncodeToString(sum[:])
}

// serialize converts the file into the canonical record used for
// fingerprinting. Warehouse payloads are built separately by the
// warehouse package.
func (f *File) serialize() map[string]any {
	return map[string]any{
		"file": map[string]any{
			"name": f.Filename,
			"file": base64.StdEncoding.EncodeToString(f.Data),
		},
		"created":        f.UploadTime.Format(TimeLayout),
		"type":           f.Type,
		"python_version": f.PythonVersion,
		"comment":        f.Comment,
		"filename":       f.Filename,
		"filesize":       int64(len(f.Data)),
		"digests": map[string]any{
			"md5":    f.MD5(),
			"sha256": f.SHA256(),
		},
	}
}

// Release is the normalized form of one (project, version) record reported
// by the index, including its files.
type Release struct {
	Name    string
	Version string

	Summary     string
	Description string
	License     string

	Author          string
	AuthorEmail     string
	Maintainer      string
	MaintainerEmail string

	Classifiers        []string
	Keywords           []string
	Platforms          []string
	SupportedPlatforms []string

	RequiresPython   string
	RequiresExternal []string

	// URIs maps a human label ("Home page", "Bug tracker", ...) to a
	// cleaned URL.
	URIs map[string]string

	Requires  []Dependency
	Provides  []Dependency
	Obsoletes []Dependency

	// Created is the earliest upload time across the release's files, or
	// nil when the release has no files.
	Created *time.Time

	Files []File
}

// serialize converts the release into a tree of maps, slices, and scalars.
// The record is the fingerprint's input, so it contains every field the
// engine owns and none of the index bookkeeping.
func (r *Release) serialize() map[string]any {
	files := make([]any, 0, len(r.Files))
	for i := range r.Files {
		files = append(files, r.Files[i].serialize())
	}

	data := map[string]any{
		"name":                r.Name,
		"version":             r.Version,
		"summary":             r.Summary,
		"description":         r.Description,
		"license":             r.License,
		"author":              r.Author,
		"author_email":        r.AuthorEmail,
		"maintainer":          r.Maintainer,
		"maintainer_email":    r.MaintainerEmail,
		"classifiers":         strs(r.Classifiers),
		"keywords":            strs(r.Keywords),
		"platforms":           strs(r.Platforms),
		"supported_platforms": strs(r.SupportedPlatforms),
		"requires_python":     r.RequiresPython,
		"requires_external":   strs(r.RequiresExternal),
		"uris":                uriMap(r.URIs),
		"requires":            deps(r.Requires),
		"provides":            deps(r.Provides),
		"obsoletes":           deps(r.Obsoletes),
		"files":               files,
	}

	if r.Created != nil {
		data["created"] = r.Created.Format(TimeLayout)
	}

	return data
}

func strs(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func uriMap(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func deps(in []Dependency) []any {
	out := make([]any, len(in))
	for i, d := range in {
		out[i] = map[string]any{
			"name":        d.Name,
			"version":     d.Version,
			"environment": d.Environment,
		}
	}
	return out
}
