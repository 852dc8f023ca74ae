package telemdb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/gorilla/schema"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	s3RecordsPrefix      = "records/"
	s3DescriptionsPrefix = "descriptions/"
	// s3HashMetadata is the object metadata key holding the content hash.
	s3HashMetadata = "Hash"
	// s3MaxConcurrentHeads bounds concurrent HEAD requests of Hashes.
	s3MaxConcurrentHeads = 16
)

// S3StoreArgs contains fields that are parsed from the query arguments
// of an s3:// store URL.
type S3StoreArgs struct {
	// AWS Profile to extract credentials from the shared credentials file.
	// If empty, the default credentials are used.
	Profile string `schema:"profile"`
	// Endpoint to connect to S3. If empty, the default S3 service is used.
	Endpoint string `schema:"endpoint"`
	// Region is the region for the bucket. If empty, the region is determined
	// from `Profile` or the default credentials.
	Region string `schema:"region"`
	// SSE is the server-side encryption type to be applied (eg, "AES256").
	SSE string `schema:"sse"`
}

// S3Store is a Store of objects within an S3 bucket prefix. Records are
// objects under "records/", carrying their content hash as object metadata;
// capture descriptions are objects under "descriptions/".
type S3Store struct {
	bucket string
	prefix string
	args   S3StoreArgs
	client *s3.S3
}

// parseS3URL returns the bucket, prefix and arguments of an s3:// URL.
// The prefix is empty or ends in '/'.
func parseS3URL(ep *url.URL) (bucket, prefix string, args S3StoreArgs, err error) {
	if ep.Scheme != "s3" {
		return "", "", args, fmt.Errorf("not an s3:// URL: %s", ep)
	} else if ep.Host == "" {
		return "", "", args, fmt.Errorf("s3 URL is missing a bucket: %s", ep)
	}
	var decoder = schema.NewDecoder()
	decoder.IgnoreUnknownKeys(false)

	if q, err := url.ParseQuery(ep.RawQuery); err != nil {
		return "", "", args, err
	} else if err = decoder.Decode(&args, q); err != nil {
		return "", "", args, fmt.Errorf("parsing store URL arguments: %s", err)
	}

	bucket, prefix = ep.Host, strings.TrimPrefix(ep.Path, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return bucket, prefix, args, nil
}

// NewS3Store returns an S3Store of the bucket and prefix of ep, which is
// like "s3://bucket/prefix/?region=us-east-1".
func NewS3Store(ep *url.URL) (*S3Store, error) {
	var bucket, prefix, args, err = parseS3URL(ep)
	if err != nil {
		return nil, storeErr("open", NilKey, err)
	}

	var awsConfig = aws.NewConfig()
	awsConfig.WithCredentialsChainVerboseErrors(true)

	if args.Region != "" {
		awsConfig.WithRegion(args.Region)
	}
	if args.Endpoint != "" {
		awsConfig.WithEndpoint(args.Endpoint)
		// Bucket-named virtual hosts are not compatible with explicit endpoints.
		awsConfig.WithS3ForcePathStyle(true)
	} else {
		awsConfig.WithHTTPClient(&http.Client{
			Transport: &http.Transport{DisableCompression: true},
		})
	}

	awsSession, err := session.NewSessionWithOptions(session.Options{
		Config:  *awsConfig,
		Profile: args.Profile,
	})
	if err != nil {
		return nil, storeErr("open", NilKey, fmt.Errorf("constructing S3 session: %s", err))
	}
	if awsSession.Config.Region == nil || *awsSession.Config.Region == "" {
		return nil, storeErr("open", NilKey, fmt.Errorf("missing AWS region configuration for profile %q", args.Profile))
	}

	log.WithFields(log.Fields{
		"bucket":   bucket,
		"prefix":   prefix,
		"endpoint": args.Endpoint,
		"profile":  args.Profile,
		"region":   *awsSession.Config.Region,
	}).Info("opened S3 store")

	return &S3Store{
		bucket: bucket,
		prefix: prefix,
		args:   args,
		client: s3.New(awsSession),
	}, nil
}

func (s *S3Store) recordPath(key Key) string { return s.prefix + s3RecordsPrefix + key.String() }
func (s *S3Store) descPath(key Key) string   { return s.prefix + s3DescriptionsPrefix + key.String() }

func (s *S3Store) Read(ctx context.Context, key Key) (string, error) {
	var body, err = s.get(ctx, s.recordPath(key))
	if err == ErrNotFound {
		return "", err
	} else if err != nil {
		return "", storeErr("read", key, err)
	}
	return string(body), nil
}

func (s *S3Store) get(ctx context.Context, path string) ([]byte, error) {
	var resp, err = s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if isS3NotFound(err) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (s *S3Store) put(ctx context.Context, path string, body []byte, metadata map[string]*string) error {
	var putObj = s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(path),
		Body:     bytes.NewReader(body),
		Metadata: metadata,
	}
	if s.args.SSE != "" {
		putObj.ServerSideEncryption = aws.String(s.args.SSE)
	}
	var _, err = s.client.PutObjectWithContext(ctx, &putObj)
	return err
}

func (s *S3Store) remove(ctx context.Context, path string) error {
	var _, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	return err
}

// list invokes fn with the path, relative to prefix, of each object under it.
func (s *S3Store) list(ctx context.Context, prefix string, fn func(rel string) error) error {
	var listErr error
	var err = s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}, func(objs *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range objs.Contents {
			if strings.HasSuffix(*obj.Key, "/") {
				continue // Ignore directory-like objects.
			}
			if listErr = fn(strings.TrimPrefix(*obj.Key, prefix)); listErr != nil {
				return false
			}
		}
		return true
	})
	if listErr != nil {
		return listErr
	}
	return err
}

func (s *S3Store) Write(ctx context.Context, key Key, value string) error {
	return storeErr("write", key, s.put(ctx, s.recordPath(key), []byte(value),
		map[string]*string{s3HashMetadata: aws.String(hashValue(value))}))
}

func (s *S3Store) Delete(ctx context.Context, key Key) error {
	return storeErr("delete", key, s.remove(ctx, s.recordPath(key)))
}

func (s *S3Store) Keys(ctx context.Context, fn func(Key) error) error {
	var fnErr error
	var err = s.list(ctx, s.prefix+s3RecordsPrefix, func(rel string) error {
		var key, err = ParseKey(rel)
		if err != nil {
			log.WithFields(log.Fields{"bucket": s.bucket, "path": rel}).Debug("skipping non-record object")
			return nil
		} else if key == LegacyIndexKey {
			return nil
		}
		fnErr = fn(key)
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return storeErr("keys", NilKey, err)
}

// Hashes issues a HEAD request per key, reading the hash from object metadata.
func (s *S3Store) Hashes(ctx context.Context, keys []Key) (map[Key]string, error) {
	var hashes = make([]string, len(keys))
	var group, groupCtx = errgroup.WithContext(ctx)
	group.SetLimit(s3MaxConcurrentHeads)

	for i, key := range keys {
		var i, key = i, key
		group.Go(func() error {
			var resp, err = s.client.HeadObjectWithContext(groupCtx, &s3.HeadObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(s.recordPath(key)),
			})
			if isS3NotFound(err) {
				return nil
			} else if err != nil {
				return storeErr("hashes", key, err)
			}
			if h := s3Metadata(resp.Metadata, s3HashMetadata); h != "" {
				hashes[i] = h
			} else {
				// Written by another client. An unmatched hash forces a copy.
				hashes[i] = "etag:" + aws.StringValue(resp.ETag)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var out = make(map[Key]string, len(keys))
	for i, key := range keys {
		if hashes[i] != "" {
			out[key] = hashes[i]
		}
	}
	return out, nil
}

func (s *S3Store) AddCaptureDescription(ctx context.Context, desc CaptureDescription) error {
	var b, err = marshalDescription(desc)
	if err == nil {
		err = s.put(ctx, s.descPath(desc.Location), b, nil)
	}
	return storeErr("add description", desc.Location, err)
}

func (s *S3Store) CaptureDescriptions(ctx context.Context, fn func(CaptureDescription) error) error {
	var prefix = s.prefix + s3DescriptionsPrefix
	var descs []CaptureDescription

	var err = s.list(ctx, prefix, func(rel string) error {
		var b, err = s.get(ctx, prefix+rel)
		if err == ErrNotFound {
			return nil // Removed since it was listed.
		} else if err != nil {
			return err
		}
		desc, err := unmarshalDescription(b)
		if err != nil {
			return err
		}
		descs = append(descs, desc)
		return nil
	})
	if err != nil {
		return storeErr("descriptions", NilKey, err)
	}
	sortDescriptions(descs)

	for _, desc := range descs {
		if err = fn(desc); err != nil {
			return err
		}
	}
	return nil
}

func (s *S3Store) RemoveCaptureDescription(ctx context.Context, location Key) error {
	return storeErr("remove description", location, s.remove(ctx, s.descPath(location)))
}

func (s *S3Store) Close() error { return nil }

func isS3NotFound(err error) bool {
	if awsErr, ok := err.(awserr.RequestFailure); ok && awsErr.StatusCode() == http.StatusNotFound {
		return true
	} else if awsErr, ok := err.(awserr.Error); ok && awsErr.Code() == s3.ErrCodeNoSuchKey {
		return true
	}
	return false
}

// s3Metadata returns the value of metadata name. Metadata keys are
// returned in canonical header form, which may differ in case.
func s3Metadata(md map[string]*string, name string) string {
	for k, v := range md {
		if strings.EqualFold(k, name) && v != nil {
			return *v
		}
	}
	return ""
}
