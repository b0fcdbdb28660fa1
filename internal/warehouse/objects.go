// Package warehouse adapts the downstream catalog's REST object graph
// (Projects → Versions → Files) with get-or-create + field-diff + save
// semantics.
package warehouse

import (
	"encoding/base64"
	"maps"
	"slices"

	"github.com/crateio/carrier/internal/release"
)

// Project is the top-level catalog entity, identified by name.
type Project struct {
	Name string `json:"name"`

	// Server-owned fields; never treated as drift.
	ResourceURI string `json:"resource_uri,omitempty"`
	Downloads   int64  `json:"downloads,omitempty"`
	Modified    string `json:"modified,omitempty"`
	Yanked      bool   `json:"yanked,omitempty"`
}

// Dependency mirrors release.Dependency on the wire.
type Dependency struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

// Version is one release of a project, identified by (project, version).
type Version struct {
	Project string `json:"project"`
	Version string `json:"version"`

	Summary            string            `json:"summary"`
	Description        string            `json:"description"`
	License            string            `json:"license"`
	Author             string            `json:"author"`
	AuthorEmail        string            `json:"author_email"`
	Maintainer         string            `json:"maintainer"`
	MaintainerEmail    string            `json:"maintainer_email"`
	Classifiers        []string          `json:"classifiers"`
	Keywords           []string          `json:"keywords"`
	Platforms          []string          `json:"platforms"`
	SupportedPlatforms []string          `json:"supported_platforms"`
	RequiresPython     string            `json:"requires_python"`
	RequiresExternal   []string          `json:"requires_external"`
	URIs               map[string]string `json:"uris"`
	Requires           []Dependency      `json:"requires"`
	Provides           []Dependency      `json:"provides"`
	Obsoletes          []Dependency      `json:"obsoletes"`
	Created            string            `json:"created,omitempty"`
	Yanked             bool              `json:"yanked"`

	// Files is populated by the full retrieval mode.
	Files []File `json:"files,omitempty"`

	// Server-owned fields; never treated as drift.
	ResourceURI string `json:"resource_uri,omitempty"`
	Downloads   int64  `json:"downloads,omitempty"`
	Modified    string `json:"modified,omitempty"`
}

// Digests carries the file content hashes.
type Digests struct {
	MD5    string `json:"md5"`
	SHA256 string `json:"sha256"`
}

// FilePayload is the uploaded content of a file.
type FilePayload struct {
	Name string `json:"name"`
	File string `json:"file"` // base64
}

// File is a distribution file, identified globally by filename.
type File struct {
	Project string `json:"project"`
	Version string `json:"version"`

	Filename      string       `json:"filename"`
	Type          string       `json:"type"`
	PythonVersion string       `json:"python_version"`
	Comment       string       `json:"comment"`
	Created       string       `json:"created,omitempty"`
	Filesize      int64        `json:"filesize"`
	Digests       Digests      `json:"digests"`
	Payload       *FilePayload `json:"file,omitempty"`
	Yanked        bool         `json:"yanked"`

	// Server-owned fields; never treated as drift.
	ResourceURI string `json:"resource_uri,omitempty"`
	Downloads   int64  `json:"downloads,omitempty"`
	Modified    string `json:"modified,omitempty"`
}

// VersionRecord builds the version payload for a normalized release.
func VersionRecord(r *release.Release, project string) Version {
	v := Version{
		Project: project,
		Version: r.Version,

		Summary:            r.Summary,
		Description:        r.Description,
		License:            r.License,
		Author:             r.Author,
		AuthorEmail:        r.AuthorEmail,
		Maintainer:         r.Maintainer,
		MaintainerEmail:    r.MaintainerEmail,
		Classifiers:        slices.Clone(r.Classifiers),
		Keywords:           slices.Clone(r.Keywords),
		Platforms:          slices.Clone(r.Platforms),
		SupportedPlatforms: slices.Clone(r.SupportedPlatforms),
		RequiresPython:     r.RequiresPython,
		RequiresExternal:   slices.Clone(r.RequiresExternal),
		URIs:               maps.Clone(r.URIs),
		Requires:           dependencies(r.Requires),
		Provides:           dependencies(r.Provides),
		Obsoletes:          dependencies(r.Obsoletes),
		Yanked:             false,
	}
	if r.Created != nil {
		v.Created = r.Created.Format(release.TimeLayout)
	}
	return v
}

// FileRecord builds the file payload for one distribution of a release.
func FileRecord(f *release.File, project, version string) File {
	return File{
		Project: project,
		Version: version,

		Filename:      f.Filename,
		Type:          f.Type,
		PythonVersion: f.PythonVersion,
		Comment:       f.Comment,
		Created:       f.UploadTime.Format(release.TimeLayout),
		Filesize:      int64(len(f.Data)),
		Digests: Digests{
			MD5:    f.MD5(),
			SHA256: f.SHA256(),
		},
		Payload: &FilePayload{
			Name: f.Filename,
			File: base64.StdEncoding.EncodeToString(f.Data),
		},
		Yanked: false,
	}
}

func dependencies(in []release.Dependency) []Dependency {
	if len(in) == 0 {
		return nil
	}
	out := make([]Dependency, len(in))
	for i, d := range in {
		out[i] = Dependency(d)
	}
	return out
}

// apply writes every differing authoritative field of rec into v and
// reports whether anything changed. Classifiers are sorted before the
// comparison because the remote may return them unsorted. Server-owned
// fields are left alone.
func (v *Version) apply(rec Version) bool {
	slices.Sort(v.Classifiers)

	changed := false
	set := func(dst *string, val string) {
		if *dst != val {
			*dst = val
			changed = true
		}
	}

	set(&v.Summary, rec.Summary)
	set(&v.Description, rec.Description)
	set(&v.License, rec.License)
	set(&v.Author, rec.Author)
	set(&v.AuthorEmail, rec.AuthorEmail)
	set(&v.Maintainer, rec.Maintainer)
	set(&v.MaintainerEmail, rec.MaintainerEmail)
	set(&v.RequiresPython, rec.RequiresPython)
	set(&v.Created, rec.Created)

	if !slices.Equal(v.Classifiers, rec.Classifiers) {
		v.Classifiers = rec.Classifiers
		changed = true
	}
	if !slices.Equal(v.Keywords, rec.Keywords) {
		v.Keywords = rec.Keywords
		changed = true
	}
	if !slices.Equal(v.Platforms, rec.Platforms) {
		v.Platforms = rec.Platforms
		changed = true
	}
	if !slices.Equal(v.SupportedPlatforms, rec.SupportedPlatforms) {
		v.SupportedPlatforms = rec.SupportedPlatforms
		changed = true
	}
	if !slices.Equal(v.RequiresExternal, rec.RequiresExternal) {
		v.RequiresExternal = rec.RequiresExternal
		changed = true
	}
	if !maps.Equal(v.URIs, rec.URIs) {
		v.URIs = rec.URIs
		changed = true
	}
	if !slices.Equal(v.Requires, rec.Requires) {
		v.Requires = rec.Requires
		changed = true
	}
	if !slices.Equal(v.Provides, rec.Provides) {
		v.Provides = rec.Provides
		changed = true
	}
	if !slices.Equal(v.Obsoletes, rec.Obsoletes) {
		v.Obsoletes = rec.Obsoletes
		changed = true
	}

	return changed
}

// apply writes every differing authoritative field of rec into f and
// reports whether anything changed.
func (f *File) apply(rec File) bool {
	changed := false
	set := func(dst *string, val string) {
		if *dst != val {
			*dst = val
			changed = true
		}
	}

	set(&f.Project, rec.Project)
	set(&f.Version, rec.Version)
	set(&f.Type, rec.Type)
	set(&f.PythonVersion, rec.PythonVersion)
	set(&f.Comment, rec.Comment)
	set(&f.Created, rec.Created)

	if f.Filesize != rec.Filesize {
		f.Filesize = rec.Filesize
		changed = true
	}
	if f.Digests != rec.Digests {
		f.Digests = rec.Digests
		changed = true
	}
	if rec.Payload != nil && (f.Payload == nil || *f.Payload != *rec.Payload) {
		f.Payload = rec.Payload
		changed = true
	}

	return changed
}
