// Package blobstore keeps confirmation artifacts of submitted claims in a
// local directory, optionally mirroring each one to S3.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/claimbot/claimbot/internal/driver"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	// ErrInvalidContentType is returned when the source file type is not allowed.
	ErrInvalidContentType = errors.New("invalid content type")

	// ErrEmptySource is returned when the source file has no bytes.
	ErrEmptySource = errors.New("artifact source is empty")

	// ErrMissingInvoice is returned when the invoice id is blank.
	ErrMissingInvoice = errors.New("invoice id is required")
)

// allowedContentTypes maps accepted file extensions to their MIME type.
var allowedContentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".pdf":  "application/pdf",
}

// ContentTypeFor returns the MIME type for an artifact path.
func ContentTypeFor(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	ct, ok := allowedContentTypes[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidContentType, ext)
	}
	return ct, nil
}

// ---------------------------------------------------------------------------
// Metadata
// ---------------------------------------------------------------------------

// Metadata describes a stored artifact. It is written next to the artifact
// as "<file>.json".
type Metadata struct {
	ID          string    `json:"id"`
	InvoiceID   string    `json:"invoice_id"`
	FileName    string    `json:"file_name"`
	Source      string    `json:"source"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
	MirrorKey   string    `json:"mirror_key,omitempty"`
}

// Mirror receives a copy of every stored artifact. Put returns the key the
// object was actually stored under.
type Mirror interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, meta Metadata) (string, error)
}

// ---------------------------------------------------------------------------
// LocalStore
// ---------------------------------------------------------------------------

// LocalStore implements driver.ArtifactStore on a directory.
type LocalStore struct {
	dir    string
	clock  driver.Clock
	mirror Mirror
	logger zerolog.Logger
}

// Option configures a LocalStore.
type Option func(*LocalStore)

// WithClock sets the clock used for artifact timestamps.
func WithClock(c driver.Clock) Option {
	return func(s *LocalStore) { s.clock = c }
}

// WithMirror copies every saved artifact to m. Mirror failures are logged
// and do not fail the save.
func WithMirror(m Mirror) Option {
	return func(s *LocalStore) { s.mirror = m }
}

// WithLogger sets the store logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *LocalStore) { s.logger = l }
}

// NewLocalStore creates dir if needed and returns a store rooted there.
func NewLocalStore(dir string, opts ...Option) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	s := &LocalStore{
		dir:    dir,
		clock:  driver.SystemClock{},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Save copies srcPath to "<dir>/<invoice>_<timestamp><ext>" and returns the
// stored path.
func (s *LocalStore) Save(ctx context.Context, invoiceID, srcPath string) (string, error) {
	if strings.TrimSpace(invoiceID) == "" {
		return "", ErrMissingInvoice
	}
	ct, err := ContentTypeFor(srcPath)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return "", fmt.Errorf("read artifact source: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: %s", ErrEmptySource, srcPath)
	}

	now := s.clock.Now().UTC()
	name := FileName(invoiceID, now, filepath.Ext(srcPath))
	dst := filepath.Join(s.dir, name)

	sum := sha256.Sum256(data)
	meta := Metadata{
		ID:          uuid.New().String(),
		InvoiceID:   invoiceID,
		FileName:    name,
		Source:      srcPath,
		ContentType: ct,
		Size:        int64(len(data)),
		Hash:        hex.EncodeToString(sum[:]),
		CreatedAt:   now,
	}

	if err := writeAtomic(dst, data); err != nil {
		return "", fmt.Errorf("store artifact: %w", err)
	}

	if s.mirror != nil {
		key, err := s.mirror.Put(ctx, MirrorKey(meta), bytes.NewReader(data), meta.Size, meta)
		if err != nil {
			s.logger.Warn().Err(err).Str("invoice", invoiceID).Msg("artifact mirror failed")
		} else {
			meta.MirrorKey = key
		}
	}

	sidecar, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode artifact metadata: %w", err)
	}
	if err := writeAtomic(dst+".json", sidecar); err != nil {
		return "", fmt.Errorf("store artifact metadata: %w", err)
	}

	s.logger.Info().
		Str("invoice", invoiceID).
		Str("file", name).
		Int64("size", meta.Size).
		Msg("artifact stored")
	return dst, nil
}

// FileName builds the stored artifact name.
func FileName(invoiceID string, at time.Time, ext string) string {
	return fmt.Sprintf("%s_%s%s", safeName(invoiceID), at.UTC().Format("20060102T150405.000"), strings.ToLower(ext))
}

// MirrorKey is the object key for a mirrored artifact.
func MirrorKey(m Metadata) string {
	return fmt.Sprintf("confirmations/%s/%s", m.CreatedAt.UTC().Format("2006-01-02"), m.FileName)
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
