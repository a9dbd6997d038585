package receiver

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Backend commits files to an S3-compatible object store instead of
// a local filesystem, selected when the receiver's out_dir carries an
// "s3://bucket/prefix" URI; a frame's destination cannot select it. It still honors the
// atomic-visibility invariant: the object is only visible at its key
// once the multipart upload completes, so a dropped connection never
// leaves a partial object behind.
type S3Backend struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// ParseS3Dest splits an "s3://bucket/prefix" URI into its parts.
func ParseS3Dest(uri string) (bucket, prefix string, err error) {
	rest := strings.TrimPrefix(uri, "s3://")
	if rest == uri {
		return "", "", fmt.Errorf("not an s3:// destination: %q", uri)
	}
	parts := strings.SplitN(rest, "/", 2)
	bucket = parts[0]
	if bucket == "" {
		return "", "", fmt.Errorf("s3 destination %q missing bucket name", uri)
	}
	if len(parts) == 2 {
		prefix = strings.TrimSuffix(parts[1], "/")
	}
	return bucket, prefix, nil
}

// NewS3Backend loads AWS credentials from the default provider chain
// (environment, shared config, instance role) and builds an uploader
// for bucket/prefix.
func NewS3Backend(ctx context.Context, bucket, prefix string) (*S3Backend, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	uploader := manager.NewUploader(client)

	return &S3Backend{uploader: uploader, bucket: bucket, prefix: prefix}, nil
}

// ResolveDest splits relPath into the S3 key's directory and base name
// without touching outDir: out_dir is an s3://bucket/prefix URI, not a
// filesystem path, so joining it with filepath.Join (as the local
// backend does) would collapse "s3://" to "s3:/" and embed the bucket
// literal into every object key. relPath has already passed
// protocol.ValidateRelativePath at the wire layer, so no ".." segment
// can reach here.
func (b *S3Backend) ResolveDest(_ string, relPath string) (string, string, error) {
	dir, name := path.Split(path.Clean(relPath))
	return strings.TrimSuffix(dir, "/"), name, nil
}

type s3Staging struct {
	pw     *io.PipeWriter
	done   chan struct{}
	uplErr error
}

// Create streams writes straight into an io.Pipe that feeds the
// uploader running in its own goroutine, so the receiver session
// never buffers a whole file in memory for the S3 path either.
func (b *S3Backend) Create(ctx context.Context, finalDir, name string, _ uint64) (Staging, error) {
	segments := make([]string, 0, 3)
	if b.prefix != "" {
		segments = append(segments, b.prefix)
	}
	if finalDir != "" && finalDir != "." {
		segments = append(segments, strings.Trim(finalDir, "/"))
	}
	segments = append(segments, name)
	key := strings.Join(segments, "/")

	pr, pw := io.Pipe()
	st := &s3Staging{pw: pw, done: make(chan struct{})}

	go func() {
		defer close(st.done)
		_, err := b.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
			Body:   pr,
		})
		st.uplErr = err
	}()

	return st, nil
}

func (s *s3Staging) Write(p []byte) (int, error) {
	return s.pw.Write(p)
}

// Commit closes the write side, letting the uploader drain, and waits
// for the multipart upload to complete.
func (s *s3Staging) Commit() error {
	s.pw.Close()
	<-s.done
	return s.uplErr
}

// Abort unblocks the uploader goroutine with an error instead of EOF,
// which aborts the in-progress multipart upload.
func (s *s3Staging) Abort() error {
	s.pw.CloseWithError(fmt.Errorf("upload aborted"))
	<-s.done
	return nil
}
