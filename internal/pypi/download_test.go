package pypi

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func md5hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func TestFetchFile(t *testing.T) {
	payload := []byte("sdist tarball bytes")

	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		w.Write(payload)
	}))
	defer srv.Close()

	desc := map[string]any{
		"url":            srv.URL + "/packages/source/f/foo/foo-1.0.tar.gz",
		"filename":       "foo-1.0.tar.gz",
		"packagetype":    "sdist",
		"python_version": "source",
		"comment_text":   "",
		"md5_digest":     md5hex(payload),
		"upload_time":    time.Date(2012, 7, 1, 10, 30, 0, 0, time.UTC),
		"has_sig":        true,
		"size":           int64(len(payload)),
		"downloads":      int64(99),
	}

	f, err := testClient(t, srv.URL).FetchFile(context.Background(), desc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if string(f.Data) != string(payload) {
		t.Error("expected the served payload")
	}
	if f.Filename != "foo-1.0.tar.gz" || f.Type != "sdist" {
		t.Errorf("unexpected descriptor fields: %+v", f)
	}
	if f.MD5() != desc["md5_digest"] {
		t.Errorf("expected matching MD5, got %s", f.MD5())
	}
	if f.SHA256() == "" {
		t.Error("expected SHA-256 computed locally")
	}
	if ua != "carrier-test/0" {
		t.Errorf("expected synchronizer User-Agent on downloads, got %q", ua)
	}
}

func TestFetchFile_HashMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tampered bytes"))
	}))
	defer srv.Close()

	desc := map[string]any{
		"url":        srv.URL + "/foo-1.0.tar.gz",
		"filename":   "foo-1.0.tar.gz",
		"md5_digest": "deadbeefdeadbeefdeadbeefdeadbeef",
	}

	_, err := testClient(t, srv.URL).FetchFile(context.Background(), desc)
	var mismatch *HashMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected HashMismatchError, got %v", err)
	}
	if mismatch.Expected != "deadbeefdeadbeefdeadbeefdeadbeef" {
		t.Errorf("unexpected expected digest %q", mismatch.Expected)
	}
}

func TestFetchFile_NotFoundIsPermanent(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.NotFound(w, r)
	}))
	defer srv.Close()

	desc := map[string]any{"url": srv.URL + "/gone.tar.gz", "md5_digest": "x"}

	if _, err := testClient(t, srv.URL).FetchFile(context.Background(), desc); err == nil {
		t.Fatal("expected an error for 404")
	}
	if attempts != 1 {
		t.Errorf("expected no retries on 404, got %d attempts", attempts)
	}
}

func TestFetchFile_RetriesServerErrors(t *testing.T) {
	payload := []byte("eventually served")

	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		w.Write(payload)
	}))
	defer srv.Close()

	desc := map[string]any{
		"url":        srv.URL + "/flaky.tar.gz",
		"filename":   "flaky.tar.gz",
		"md5_digest": md5hex(payload),
	}

	f, err := testClient(t, srv.URL).FetchFile(context.Background(), desc)
	if err != nil {
		t.Fatalf("expected the 502 to be retried, got %v", err)
	}
	if string(f.Data) != string(payload) {
		t.Error("expected the payload from the retry")
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestFetchFile_MissingURL(t *testing.T) {
	_, err := testClient(t, "http://localhost:1").FetchFile(context.Background(), map[string]any{})
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProtocolError for a descriptor without url, got %v", err)
	}
}
