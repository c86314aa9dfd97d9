package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v4"
)

// uploadAttempts bounds the retry budget for uploads. List, Download
// and Delete are not retried.
const uploadAttempts = 5

// Client is a thin wrapper over an S3-compatible bucket holding opaque
// checkpoint blobs. Credentials come from the standard AWS environment
// variables; endpoint and bucket from the config file.
type Client struct {
	s3     *s3.Client
	bucket string
}

// NewClient builds a Client for the given endpoint/region/bucket.
func NewClient(endpoint, region, bucket string) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"), "")),
	)
	if err != nil {
		return nil, fmt.Errorf("loading storage config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	return &Client{s3: client, bucket: bucket}, nil
}

func storageBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 1.5
	bo.MaxElapsedTime = 0
	return backoff.WithMaxRetries(bo, uploadAttempts-1)
}

// List returns the keys under prefix, sorted ascending.
func (c *Client) List(prefix string) ([]string, error) {
	if prefix != "" && prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(context.Background())
		if err != nil {
			return nil, fmt.Errorf("listing bucket %s: %w", c.bucket, err)
		}
		for _, object := range page.Contents {
			if object.Key != nil && *object.Key != prefix {
				keys = append(keys, *object.Key)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Upload stores a local file under key. Content-Length is set from the
// file size, as the bucket requires it.
func (c *Client) Upload(key, filename, contentType string) error {
	op := func() error {
		f, err := os.Open(filename)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return backoff.Permanent(err)
		}

		_, err = c.s3.PutObject(context.Background(), &s3.PutObjectInput{
			Bucket:        aws.String(c.bucket),
			Key:           aws.String(key),
			Body:          f,
			ContentLength: aws.Int64(info.Size()),
			ContentType:   aws.String(contentType),
		})
		if err != nil {
			log.Printf("[storage] [error] upload of %s failed, will retry: %v", key, err)
		}
		return err
	}
	if err := backoff.Retry(op, storageBackoff()); err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	return nil
}

// Download returns a reader over the object at key. The caller closes
// it.
func (c *Client) Download(key string) (io.ReadCloser, error) {
	out, err := c.s3.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", key, err)
	}
	return out.Body, nil
}

// DownloadToFile fetches key into a local file.
func (c *Client) DownloadToFile(key, filename string) error {
	body, err := c.Download(key)
	if err != nil {
		return err
	}
	defer body.Close()

	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", filename, err)
	}
	return f.Close()
}

// Delete removes the object at key.
func (c *Client) Delete(key string) error {
	_, err := c.s3.DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}
