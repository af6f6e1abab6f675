package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/goccy/go-json"

	"github.com/claimbot/claimbot/internal/driver/drivertest"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func readSidecar(t *testing.T, artifact string) Metadata {
	t.Helper()
	data, err := os.ReadFile(artifact + ".json")
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatalf("decode sidecar: %v", err)
	}
	return meta
}

type fakeMirror struct {
	err  error
	keys []string
	body []string
}

func (m *fakeMirror) Put(_ context.Context, key string, body io.Reader, _ int64, _ Metadata) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	b, _ := io.ReadAll(body)
	m.keys = append(m.keys, key)
	m.body = append(m.body, string(b))
	return key, nil
}

var fixed = time.Date(2026, 10, 14, 9, 30, 5, 0, time.UTC)

// ---------------------------------------------------------------------------
// LocalStore
// ---------------------------------------------------------------------------

func TestLocalStore_Save(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "artifacts")
	store, err := NewLocalStore(dir, WithClock(&drivertest.Clock{T: fixed}))
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	src := writeSource(t, "shot.PNG", "png-bytes")

	dst, err := store.Save(context.Background(), "INV-1", src)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	want := filepath.Join(dir, "INV-1_20261014T093005.000.png")
	if dst != want {
		t.Errorf("dst = %s, want %s", dst, want)
	}
	got, err := os.ReadFile(dst)
	if err != nil || string(got) != "png-bytes" {
		t.Fatalf("stored content = %q (%v)", got, err)
	}

	meta := readSidecar(t, dst)
	sum := sha256.Sum256([]byte("png-bytes"))
	if meta.Hash != hex.EncodeToString(sum[:]) {
		t.Errorf("hash = %s", meta.Hash)
	}
	if meta.ContentType != "image/png" || meta.Size != 9 || meta.InvoiceID != "INV-1" {
		t.Errorf("unexpected metadata: %+v", meta)
	}
	if meta.ID == "" {
		t.Error("expected an artifact id")
	}
	if !meta.CreatedAt.Equal(fixed) {
		t.Errorf("created_at = %s", meta.CreatedAt)
	}
	if meta.FileName != filepath.Base(dst) {
		t.Errorf("file_name = %s", meta.FileName)
	}
}

func TestLocalStore_DistinctNamesPerSave(t *testing.T) {
	store, _ := NewLocalStore(t.TempDir(), WithClock(&drivertest.Clock{T: fixed, Step: time.Millisecond}))
	src := writeSource(t, "shot.png", "x")

	a, err := store.Save(context.Background(), "INV-1", src)
	if err != nil {
		t.Fatal(err)
	}
	b, err := store.Save(context.Background(), "INV-1", src)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Errorf("expected distinct paths, both %s", a)
	}
	for _, p := range []string{a, b} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("artifact missing: %v", err)
		}
	}
}

func TestLocalStore_SanitizesInvoiceID(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewLocalStore(dir, WithClock(&drivertest.Clock{T: fixed}))
	src := writeSource(t, "shot.png", "x")

	dst, err := store.Save(context.Background(), "../INV 9", src)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(dst) != dir {
		t.Errorf("artifact escaped the store: %s", dst)
	}
	if !strings.HasPrefix(filepath.Base(dst), "___INV_9_") {
		t.Errorf("name = %s", filepath.Base(dst))
	}
}

func TestLocalStore_Rejects(t *testing.T) {
	store, _ := NewLocalStore(t.TempDir())
	ctx := context.Background()

	tests := []struct {
		name    string
		invoice string
		src     string
		want    error
	}{
		{"blank invoice", " ", writeSource(t, "a.png", "x"), ErrMissingInvoice},
		{"bad extension", "INV-1", writeSource(t, "a.exe", "x"), ErrInvalidContentType},
		{"empty file", "INV-1", writeSource(t, "a.png", ""), ErrEmptySource},
		{"missing file", "INV-1", filepath.Join(t.TempDir(), "gone.png"), os.ErrNotExist},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Save(ctx, tt.invoice, tt.src)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLocalStore_Mirror(t *testing.T) {
	m := &fakeMirror{}
	store, _ := NewLocalStore(t.TempDir(), WithClock(&drivertest.Clock{T: fixed}), WithMirror(m))
	src := writeSource(t, "shot.png", "png-bytes")

	dst, err := store.Save(context.Background(), "INV-2", src)
	if err != nil {
		t.Fatal(err)
	}
	wantKey := "confirmations/2026-10-14/INV-2_20261014T093005.000.png"
	if len(m.keys) != 1 || m.keys[0] != wantKey {
		t.Fatalf("mirror keys = %v", m.keys)
	}
	if m.body[0] != "png-bytes" {
		t.Errorf("mirror body = %q", m.body[0])
	}
	if meta := readSidecar(t, dst); meta.MirrorKey != wantKey {
		t.Errorf("mirror key in metadata = %q", meta.MirrorKey)
	}
}

func TestLocalStore_MirrorFailureKeepsLocalCopy(t *testing.T) {
	m := &fakeMirror{err: errors.New("bucket unreachable")}
	store, _ := NewLocalStore(t.TempDir(), WithMirror(m))
	src := writeSource(t, "shot.png", "x")

	dst, err := store.Save(context.Background(), "INV-3", src)
	if err != nil {
		t.Fatalf("mirror failure must not fail the save: %v", err)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Errorf("local copy missing: %v", err)
	}
	if meta := readSidecar(t, dst); meta.MirrorKey != "" {
		t.Errorf("mirror key should be empty, got %q", meta.MirrorKey)
	}
}

// ---------------------------------------------------------------------------
// S3Mirror
// ---------------------------------------------------------------------------

type fakePutter struct {
	in  *s3.PutObjectInput
	err error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	return &s3.PutObjectOutput{}, f.err
}

func TestS3Mirror_Put(t *testing.T) {
	p := &fakePutter{}
	m := NewS3Mirror(p, "claims-bucket", "/robot/")
	meta := Metadata{ID: "a1", InvoiceID: "INV-1", ContentType: "image/png", Hash: "abc"}

	key, err := m.Put(context.Background(), "confirmations/x.png", strings.NewReader("x"), 1, meta)
	if err != nil {
		t.Fatal(err)
	}
	if key != "robot/confirmations/x.png" {
		t.Errorf("returned key = %s", key)
	}
	if aws.ToString(p.in.Bucket) != "claims-bucket" {
		t.Errorf("bucket = %s", aws.ToString(p.in.Bucket))
	}
	if aws.ToString(p.in.Key) != "robot/confirmations/x.png" {
		t.Errorf("key = %s", aws.ToString(p.in.Key))
	}
	if aws.ToString(p.in.ContentType) != "image/png" || aws.ToInt64(p.in.ContentLength) != 1 {
		t.Errorf("unexpected input: %+v", p.in)
	}
	if p.in.Metadata["invoice_id"] != "INV-1" || p.in.Metadata["sha256"] != "abc" {
		t.Errorf("metadata = %v", p.in.Metadata)
	}
}

func TestS3Mirror_PutError(t *testing.T) {
	sentinel := errors.New("access denied")
	m := NewS3Mirror(&fakePutter{err: sentinel}, "b", "")
	_, err := m.Put(context.Background(), "k", strings.NewReader(""), 0, Metadata{})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if !strings.Contains(err.Error(), "s3://b/k") {
		t.Errorf("error should name the object: %v", err)
	}
}

func TestLocalStore_RecordsPrefixedMirrorKey(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		want   string
	}{
		{"no prefix", "", "confirmations/2026-10-14/INV-4_20261014T093005.000.png"},
		{"prefix", "robot", "robot/confirmations/2026-10-14/INV-4_20261014T093005.000.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePutter{}
			store, _ := NewLocalStore(t.TempDir(),
				WithClock(&drivertest.Clock{T: fixed}),
				WithMirror(NewS3Mirror(p, "claims-bucket", tt.prefix)))
			dst, err := store.Save(context.Background(), "INV-4", writeSource(t, "shot.png", "x"))
			if err != nil {
				t.Fatal(err)
			}
			if got := aws.ToString(p.in.Key); got != tt.want {
				t.Errorf("uploaded key = %s, want %s", got, tt.want)
			}
			if got := readSidecar(t, dst).MirrorKey; got != tt.want {
				t.Errorf("recorded key = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestContentTypeFor(t *testing.T) {
	tests := map[string]string{"a.png": "image/png", "a.JPG": "image/jpeg", "a.pdf": "application/pdf"}
	for in, want := range tests {
		got, err := ContentTypeFor(in)
		if err != nil || got != want {
			t.Errorf("ContentTypeFor(%s) = %s, %v", in, got, err)
		}
	}
	if _, err := ContentTypeFor("a.txt"); !errors.Is(err, ErrInvalidContentType) {
		t.Errorf("expected ErrInvalidContentType, got %v", err)
	}
}
