package storage

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/janelia-flyem/tiled/tiled"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcp"
)

// OpenBucket returns a blob.Bucket for the given reference.
// The reference should be of the form:
//
//	gs://<bucketname>[/<prefix>]
//	s3://<bucketname>[/<prefix>]
//	file:///<directory>
//	mem://
func OpenBucket(ctx context.Context, ref string) (bucket *blob.Bucket, err error) {
	switch {
	case strings.HasPrefix(ref, "gs://"):
		// Google Cloud Storage with application default credentials.
		name, prefix := splitBucketName(strings.TrimPrefix(ref, "gs://"))
		creds, err := gcp.DefaultCredentials(ctx)
		if err != nil {
			return nil, err
		}
		client, err := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))
		if err != nil {
			return nil, err
		}
		if bucket, err = gcsblob.OpenBucket(ctx, client, name, nil); err != nil {
			tiled.Errorf("Can't open bucket reference @ %q: %v\n", ref, err)
			return nil, err
		}
		if prefix != "" {
			bucket = blob.PrefixedBucket(bucket, prefix)
		}

	case strings.HasPrefix(ref, "s3://"):
		// Requires AWS credentials that gocloud can find and the AWS_REGION
		// environment variable.
		name, prefix := splitBucketName(strings.TrimPrefix(ref, "s3://"))
		if bucket, err = blob.OpenBucket(ctx, "s3://"+name); err != nil {
			tiled.Errorf("Can't open bucket reference @ %q: %v\n", ref, err)
			return nil, err
		}
		if prefix != "" {
			bucket = blob.PrefixedBucket(bucket, prefix)
		}

	case strings.HasPrefix(ref, "file://"), strings.HasPrefix(ref, "mem://"):
		if bucket, err = blob.OpenBucket(ctx, ref); err != nil {
			tiled.Errorf("Can't open bucket reference @ %q: %v\n", ref, err)
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unsupported bucket reference %q", ref)
	}
	return bucket, nil
}

func splitBucketName(s string) (name, prefix string) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 && parts[1] != "" {
		prefix = strings.TrimSuffix(parts[1], "/") + "/"
	}
	return parts[0], prefix
}

// SplitBlobURI splits an object URI into a bucket reference suitable for
// OpenBucket and the object key within that bucket.
func SplitBlobURI(uri string) (ref, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("bad object URI %q: %v", uri, err)
	}
	switch u.Scheme {
	case "gs", "s3":
		key = strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return "", "", fmt.Errorf("object URI %q needs a bucket and key", uri)
		}
		return u.Scheme + "://" + u.Host, key, nil
	case "file":
		dir, file := path.Split(u.Path)
		if file == "" {
			return "", "", fmt.Errorf("object URI %q names a directory", uri)
		}
		return "file://" + dir, file, nil
	case "mem":
		key = strings.TrimPrefix(u.Host+u.Path, "/")
		return "mem://", key, nil
	default:
		return "", "", fmt.Errorf("unsupported object URI scheme %q", u.Scheme)
	}
}
