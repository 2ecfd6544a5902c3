// Package blob reads and writes whole objects addressed either by a local
// filesystem path or by an s3://bucket/key URI.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// ErrInvalidURI is returned for malformed s3:// locations.
var ErrInvalidURI = errors.New("invalid s3 uri")

const s3Scheme = "s3://"

// Location is a parsed object address.
type Location struct {
	Bucket string
	Key    string
	Path   string
}

// IsS3 reports whether the location names an S3 object.
func (l Location) IsS3() bool { return l.Bucket != "" }

func (l Location) String() string {
	if l.IsS3() {
		return s3Scheme + l.Bucket + "/" + l.Key
	}
	return l.Path
}

// Parse splits a URI into a Location. Anything without the s3:// scheme is
// a local path.
func Parse(uri string) (Location, error) {
	if !strings.HasPrefix(uri, s3Scheme) {
		return Location{Path: uri}, nil
	}
	rest := strings.TrimPrefix(uri, s3Scheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return Location{}, fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	return Location{Bucket: bucket, Key: key}, nil
}

// Store opens and writes objects. The S3 client is created on first use.
type Store struct {
	region string

	mu  sync.Mutex
	api s3iface.S3API
}

// New creates a Store whose S3 client talks to the given region.
func New(region string) *Store {
	return &Store{region: region}
}

// NewWithClient creates a Store around an existing S3 client.
func NewWithClient(api s3iface.S3API) *Store {
	return &Store{api: api}
}

func (s *Store) client() (s3iface.S3API, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.api != nil {
		return s.api, nil
	}
	sess, err := session.NewSession(&aws.Config{Region: aws.String(s.region)})
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	s.api = s3.New(sess)
	return s.api, nil
}

// Open returns a reader for the object at uri. The caller closes it.
func (s *Store) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	loc, err := Parse(uri)
	if err != nil {
		return nil, err
	}
	if !loc.IsS3() {
		f, err := os.Open(loc.Path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", loc.Path, err)
		}
		return f, nil
	}

	api, err := s.client()
	if err != nil {
		return nil, err
	}
	out, err := api.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", loc, err)
	}
	return out.Body, nil
}

// Put stores body at uri. Local files are written to a temporary file in
// the target directory and renamed into place, so a failed write never
// leaves a partial object behind.
func (s *Store) Put(ctx context.Context, uri string, body []byte) error {
	loc, err := Parse(uri)
	if err != nil {
		return err
	}
	if !loc.IsS3() {
		return writeFileAtomic(loc.Path, body)
	}

	api, err := s.client()
	if err != nil {
		return err
	}
	_, err = api.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(loc.Bucket),
		Key:         aws.String(loc.Key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", loc, err)
	}
	return nil
}

func writeFileAtomic(path string, body []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s to %s: %w", tmpName, path, err)
	}
	return nil
}
