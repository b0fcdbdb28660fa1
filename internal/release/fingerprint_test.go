package release

import (
	"regexp"
	"testing"
	"time"
)

func testRelease() *Release {
	created := time.Date(2012, 7, 1, 10, 30, 0, 0, time.UTC)
	return &Release{
		Name:        "foo",
		Version:     "1.0",
		Summary:     "A test distribution",
		Description: "Long description",
		License:     "BSD",
		Author:      "Jane Doe",
		AuthorEmail: "jane@example.com",
		Classifiers: []string{"A", "B"},
		Keywords:    []string{"testing", "sync"},
		Platforms:   []string{"any"},
		URIs: map[string]string{
			"Home page":   "http://example.com/",
			"Bug tracker": "http://bugs.example.com/",
		},
		Requires: []Dependency{
			{Name: "bar", Version: ">=1.0", Environment: ""},
		},
		Created: &created,
		Files: []File{
			{
				Filename:      "foo-1.0.tar.gz",
				Type:          "sdist",
				PythonVersion: "source",
				UploadTime:    created,
				Data:          []byte("tarball bytes"),
			},
		},
	}
}

var hexRe = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestFingerprint_Format(t *testing.T) {
	fp := Fingerprint(testRelease())
	if !hexRe.MatchString(fp) {
		t.Errorf("expected 32 lowercase hex characters, got %q", fp)
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	fp1 := Fingerprint(testRelease())
	fp2 := Fingerprint(testRelease())
	if fp1 != fp2 {
		t.Errorf("expected identical fingerprints, got %q and %q", fp1, fp2)
	}
}

func TestFingerprint_MapOrderIndependent(t *testing.T) {
	a := testRelease()
	b := testRelease()

	// Rebuild the URI map in reverse insertion order; the canonical
	// serializer must not care.
	b.URIs = map[string]string{}
	b.URIs["Bug tracker"] = "http://bugs.example.com/"
	b.URIs["Home page"] = "http://example.com/"

	if Fingerprint(a) != Fingerprint(b) {
		t.Error("expected fingerprint to be independent of map insertion order")
	}
}

func TestFingerprint_ScalarFieldChanges(t *testing.T) {
	base := Fingerprint(testRelease())

	mutations := map[string]func(*Release){
		"summary":      func(r *Release) { r.Summary = "different" },
		"license":      func(r *Release) { r.License = "MIT" },
		"author_email": func(r *Release) { r.AuthorEmail = "other@example.com" },
		"version":      func(r *Release) { r.Version = "1.1" },
		"classifiers":  func(r *Release) { r.Classifiers = []string{"A", "B", "C"} },
		"keywords":     func(r *Release) { r.Keywords = []string{"testing"} },
		"requires":     func(r *Release) { r.Requires[0].Version = ">=2.0" },
		"uris":         func(r *Release) { r.URIs["Download"] = "http://dl.example.com/" },
		"created":      func(r *Release) { *r.Created = r.Created.Add(time.Hour) },
	}

	for field, mutate := range mutations {
		r := testRelease()
		mutate(r)
		if Fingerprint(r) == base {
			t.Errorf("expected changing %s to change the fingerprint", field)
		}
	}
}

func TestFingerprint_FileContentChanges(t *testing.T) {
	base := Fingerprint(testRelease())

	r := testRelease()
	r.Files[0].Data = []byte("different tarball bytes")
	if Fingerprint(r) == base {
		t.Error("expected changing file contents to change the fingerprint")
	}
}

func TestFingerprint_BookkeepingFieldsExcluded(t *testing.T) {
	base := Fingerprint(testRelease())

	r := testRelease()
	r.Files[0].Downloads = 12345
	r.Files[0].URL = "http://mirror.example.com/foo-1.0.tar.gz"
	r.Files[0].MD5Digest = "ignored"
	if Fingerprint(r) != base {
		t.Error("expected index bookkeeping fields to be excluded from the fingerprint")
	}
}

func TestDigest_Format(t *testing.T) {
	d := Digest([]byte("foo:1.0:1234:create"))
	if !hexRe.MatchString(d) {
		t.Errorf("expected 32 lowercase hex characters, got %q", d)
	}
	if d == Digest([]byte("foo:1.0:1235:create")) {
		t.Error("expected different identities to produce different digests")
	}
}
