// Package s3 implements a driver.StorageDriver backed by an S3-compatible
// object store, following the registry's s3-aws backend: objects are
// addressed at absolute keys under an optional root prefix, Move is a
// copy-then-delete (S3 has no native rename), and List paginates through
// ListObjectsV2.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/vaultkeeper/backup/store/driver"
	"github.com/vaultkeeper/backup/store/driver/base"
	"github.com/vaultkeeper/backup/store/driver/factory"
)

const driverName = "s3"

func init() {
	factory.Register(driverName, &s3DriverFactory{})
}

type s3DriverFactory struct{}

func (s3DriverFactory) Create(parameters map[string]interface{}) (driver.StorageDriver, error) {
	return FromParameters(parameters)
}

type baseEmbed struct {
	base.Base
}

// Driver is a driver.StorageDriver implementation backed by an S3 bucket.
type Driver struct {
	baseEmbed
}

type driverImpl struct {
	s3     *s3.S3
	bucket string
	root   string
}

// FromParameters builds a Driver from a backup set's protocol config.
// Required: bucket, region. Optional: accesskey, secretkey, endpoint,
// rootdirectory, forcepathstyle.
func FromParameters(parameters map[string]interface{}) (*Driver, error) {
	bucket, _ := parameters["bucket"].(string)
	if bucket == "" {
		return nil, fmt.Errorf("s3 driver: bucket is required")
	}
	region, _ := parameters["region"].(string)
	if region == "" {
		return nil, fmt.Errorf("s3 driver: region is required")
	}
	accessKey, _ := parameters["accesskey"].(string)
	secretKey, _ := parameters["secretkey"].(string)
	endpoint, _ := parameters["endpoint"].(string)
	root, _ := parameters["rootdirectory"].(string)
	forcePathStyle, _ := parameters["forcepathstyle"].(bool)

	cfg := aws.NewConfig().WithRegion(region)
	if accessKey != "" || secretKey != "" {
		cfg = cfg.WithCredentials(credentials.NewStaticCredentials(accessKey, secretKey, ""))
	}
	if endpoint != "" {
		cfg = cfg.WithEndpoint(endpoint)
	}
	if forcePathStyle {
		cfg = cfg.WithS3ForcePathStyle(true)
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("s3 driver: %w", err)
	}

	return &Driver{baseEmbed{base.Base{StorageDriver: &driverImpl{
		s3:     s3.New(sess),
		bucket: bucket,
		root:   root,
	}}}}, nil
}

func (d *driverImpl) Name() string { return driverName }

func (d *driverImpl) key(p string) string {
	return strings.TrimPrefix(path.Join(d.root, p), "/")
}

func (d *driverImpl) GetContent(ctx context.Context, p string) ([]byte, error) {
	rc, err := d.Reader(ctx, p, 0)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (d *driverImpl) PutContent(ctx context.Context, p string, content []byte) error {
	return d.Writer(ctx, p, bytes.NewReader(content))
}

func (d *driverImpl) Writer(ctx context.Context, p string, r io.Reader) error {
	// PutObject replaces the object atomically from the reader's
	// perspective: no reader ever observes a partial key.
	_, err := d.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(p)),
		Body:   toReadSeeker(r),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", p, err)
	}
	return nil
}

func (d *driverImpl) Reader(ctx context.Context, p string, offset int64) (io.ReadCloser, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(p)),
	}
	if offset > 0 {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
	}
	out, err := d.s3.GetObjectWithContext(ctx, input)
	if err != nil {
		if isNotFound(err) {
			return nil, driver.PathNotFoundError{Path: p}
		}
		return nil, fmt.Errorf("s3 get %s: %w", p, err)
	}
	return out.Body, nil
}

func (d *driverImpl) Stat(ctx context.Context, p string) (driver.FileInfo, error) {
	out, err := d.s3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(p)),
	})
	if err != nil {
		if isNotFound(err) {
			return driver.FileInfo{}, driver.PathNotFoundError{Path: p}
		}
		return driver.FileInfo{}, fmt.Errorf("s3 stat %s: %w", p, err)
	}
	fi := driver.FileInfo{Path: p}
	if out.ContentLength != nil {
		fi.Size = *out.ContentLength
	}
	if out.LastModified != nil {
		fi.ModTime = out.LastModified.UnixNano()
	}
	return fi, nil
}

func (d *driverImpl) List(ctx context.Context, p string) ([]string, error) {
	prefix := d.key(p)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var out []string
	err := d.s3.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(d.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, cp := range page.CommonPrefixes {
			out = append(out, "/"+strings.TrimSuffix(*cp.Prefix, "/"))
		}
		for _, obj := range page.Contents {
			out = append(out, "/"+*obj.Key)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("s3 list %s: %w", p, err)
	}
	sort.Strings(out)
	return out, nil
}

func (d *driverImpl) Move(ctx context.Context, sourcePath, destPath string) error {
	_, err := d.s3.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(d.bucket),
		CopySource: aws.String(path.Join(d.bucket, d.key(sourcePath))),
		Key:        aws.String(d.key(destPath)),
	})
	if err != nil {
		if isNotFound(err) {
			return driver.PathNotFoundError{Path: sourcePath}
		}
		return fmt.Errorf("s3 copy %s -> %s: %w", sourcePath, destPath, err)
	}
	return d.Delete(ctx, sourcePath)
}

// Delete removes the single object stored under p's key; objects whose
// keys merely start with p are not removed.
func (d *driverImpl) Delete(ctx context.Context, p string) error {
	_, err := d.s3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(p)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %s: %w", p, err)
	}
	return nil
}

func isNotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		return aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound"
	}
	return false
}

// toReadSeeker adapts an io.Reader to io.ReadSeeker for PutObject, which
// requires seekability to compute a content hash and support retries.
// PutContent's bytes.Reader and the blob store's scratch-file handles
// already satisfy io.ReadSeeker; any other reader, such as the
// io.MultiReader a manifest publish passes, is read fully into memory.
func toReadSeeker(r io.Reader) io.ReadSeeker {
	if rs, ok := r.(io.ReadSeeker); ok {
		return rs
	}
	b, _ := io.ReadAll(r)
	return bytes.NewReader(b)
}
