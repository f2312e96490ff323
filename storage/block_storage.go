package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/sharekeeper/config"
	"github.com/vultisig/sharekeeper/contexthelper"
)

// BlockStorage keeps objects in one S3 bucket.
type BlockStorage struct {
	bucket   string
	s3Client *s3.S3
	logger   *logrus.Entry
}

func NewBlockStorage(cfg config.Config) (*BlockStorage, error) {
	sess, err := session.NewSession(&aws.Config{
		Region:           aws.String(cfg.BlockStorage.Region),
		Endpoint:         aws.String(cfg.BlockStorage.Host),
		Credentials:      credentials.NewStaticCredentials(cfg.BlockStorage.AccessKey, cfg.BlockStorage.SecretKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	return &BlockStorage{
		bucket:   cfg.BlockStorage.Bucket,
		s3Client: s3.New(sess),
		logger:   logrus.WithField("module", "block_storage"),
	}, nil
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound":
		return true
	}
	return false
}

func (bs *BlockStorage) Read(ctx context.Context, key string) ([]byte, error) {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return nil, err
	}
	output, err := bs.s3Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bs.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: s3://%s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("fail to get object %s, err: %w", key, err)
	}
	defer func() {
		if err := output.Body.Close(); err != nil {
			bs.logger.Error(err)
		}
	}()
	return io.ReadAll(output.Body)
}

func (bs *BlockStorage) Write(ctx context.Context, key string, data []byte) error {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return err
	}
	output, err := bs.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bs.bucket),
		Key:           aws.String(key),
		Body:          aws.ReadSeekCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("fail to put object %s, err: %w", key, err)
	}
	bs.logger.WithFields(logrus.Fields{
		"key":        key,
		"version_id": aws.StringValue(output.VersionId),
	}).Debug("object uploaded")
	return nil
}

// Rename copies the object then deletes the source. S3 has no atomic move.
func (bs *BlockStorage) Rename(ctx context.Context, from, to string) error {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return err
	}
	_, err := bs.s3Client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(bs.bucket),
		Key:        aws.String(to),
		CopySource: aws.String(url.PathEscape(bs.bucket + "/" + from)),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: s3://%s", ErrNotFound, from)
		}
		return fmt.Errorf("fail to copy object %s to %s, err: %w", from, to, err)
	}
	return bs.Delete(ctx, from)
}

func (bs *BlockStorage) Delete(ctx context.Context, key string) error {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return err
	}
	_, err := bs.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bs.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("fail to delete object %s, err: %w", key, err)
	}
	return nil
}

func (bs *BlockStorage) Exists(ctx context.Context, key string) (bool, error) {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return false, err
	}
	_, err := bs.s3Client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bs.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("fail to head object %s, err: %w", key, err)
	}
	return true, nil
}
