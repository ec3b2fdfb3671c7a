package tracking

import (
	"context"
	"io"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/YuminosukeSato/winequality/pkg/errors"
)

// ArtifactRepository stores the files of one run under a root URI.
type ArtifactRepository interface {
	// LogArtifact copies one local file into artifactPath (a directory
	// relative to the root, "" for the root itself).
	LogArtifact(ctx context.Context, localPath, artifactPath string) error
	// LogArtifacts copies the contents of a local directory into artifactPath.
	LogArtifacts(ctx context.Context, localDir, artifactPath string) error
	// URI returns the root URI of the repository.
	URI() string
}

// NewArtifactRepository returns the repository for uri. file:// URIs and
// plain paths are local; s3://bucket/prefix uploads through the MinIO client.
func NewArtifactRepository(uri string) (ArtifactRepository, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid artifact URI %q", uri)
	}
	switch u.Scheme {
	case "", "file":
		return newLocalArtifactRepository(uri), nil
	case "s3":
		return newS3ArtifactRepository(u)
	default:
		return nil, errors.Newf("unsupported artifact URI scheme %q", u.Scheme)
	}
}

// localPathFromURI converts file:// URIs to paths; other strings are paths.
func localPathFromURI(uri string) string {
	if strings.HasPrefix(uri, "file://") {
		if u, err := url.Parse(uri); err == nil {
			return filepath.FromSlash(u.Path)
		}
	}
	return uri
}

// fileURI returns the file:// URI of an absolute path.
func fileURI(p string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String()
}

type localArtifactRepository struct {
	uri  string
	root string
}

func newLocalArtifactRepository(uri string) *localArtifactRepository {
	return &localArtifactRepository{uri: uri, root: localPathFromURI(uri)}
}

func (r *localArtifactRepository) URI() string { return r.uri }

func (r *localArtifactRepository) LogArtifact(ctx context.Context, localPath, artifactPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst := filepath.Join(r.root, filepath.FromSlash(artifactPath), filepath.Base(localPath))
	return copyFile(localPath, dst)
}

func (r *localArtifactRepository) LogArtifacts(ctx context.Context, localDir, artifactPath string) error {
	base := filepath.Join(r.root, filepath.FromSlash(artifactPath))
	return filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.MkdirAll(filepath.Join(base, rel), 0o755)
		}
		return copyFile(p, filepath.Join(base, rel))
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.WithStack(err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.WithStack(err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.WithStack(err)
	}
	return errors.WithStack(out.Close())
}

// S3 settings are read from the same environment variables MLflow uses.
const (
	envS3Endpoint = "MLFLOW_S3_ENDPOINT_URL"
	envAccessKey  = "AWS_ACCESS_KEY_ID"
	envSecretKey  = "AWS_SECRET_ACCESS_KEY"
	envRegion     = "AWS_DEFAULT_REGION"

	defaultS3Endpoint = "s3.amazonaws.com"
	defaultS3Region   = "us-east-1"
)

type s3ArtifactRepository struct {
	client *minio.Client
	bucket string
	prefix string
	uri    string
}

func newS3ArtifactRepository(u *url.URL) (*s3ArtifactRepository, error) {
	endpoint, secure := defaultS3Endpoint, true
	if raw := os.Getenv(envS3Endpoint); raw != "" {
		eu, err := url.Parse(raw)
		if err != nil || eu.Host == "" {
			return nil, errors.Newf("invalid %s %q", envS3Endpoint, raw)
		}
		endpoint, secure = eu.Host, eu.Scheme == "https"
	}
	region := os.Getenv(envRegion)
	if region == "" {
		region = defaultS3Region
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(os.Getenv(envAccessKey), os.Getenv(envSecretKey), ""),
		Secure:       secure,
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, errors.Wrap(err, "new minio client failed")
	}

	return &s3ArtifactRepository{
		client: client,
		bucket: u.Host,
		prefix: strings.Trim(u.Path, "/"),
		uri:    u.String(),
	}, nil
}

func (r *s3ArtifactRepository) URI() string { return r.uri }

func (r *s3ArtifactRepository) key(artifactPath, name string) string {
	return path.Join(r.prefix, artifactPath, name)
}

func (r *s3ArtifactRepository) LogArtifact(ctx context.Context, localPath, artifactPath string) error {
	return r.put(ctx, localPath, r.key(artifactPath, filepath.Base(localPath)))
}

func (r *s3ArtifactRepository) LogArtifacts(ctx context.Context, localDir, artifactPath string) error {
	return filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		return r.put(ctx, p, r.key(artifactPath, filepath.ToSlash(rel)))
	})
}

func (r *s3ArtifactRepository) put(ctx context.Context, localPath, key string) error {
	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := r.client.FPutObject(ctx, r.bucket, key, localPath, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return errors.Wrapf(err, "upload s3://%s/%s", r.bucket, key)
	}
	return nil
}
