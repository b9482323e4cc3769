package storage

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pbkdf2"
)

// gcmMagic marks password-protected objects: magic(8) + salt(16) + nonce(12) + ciphertext+tag.
const gcmMagic = "GCM3NCR0"

// Client wraps the AWS S3 client for source download and result upload.
type Client struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// New creates an S3 client for bucket using the default credential chain.
func New(ctx context.Context, bucket string) (*Client, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	cli := s3.NewFromConfig(cfg)
	return &Client{client: cli, uploader: manager.NewUploader(cli), bucket: bucket}, nil
}

// Download fetches key and, when password is non-empty and the object carries
// the GCM magic header, decrypts it.
func (c *Client) Download(ctx context.Context, key, password string) ([]byte, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3 object: %w", err)
	}

	if password == "" || len(data) < 8 || string(data[:8]) != gcmMagic {
		return data, nil
	}
	plain, err := decryptGCM(data, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt %s: %w", key, err)
	}
	log.Debug().Str("key", key).Int("size", len(plain)).Msg("downloaded and decrypted s3 object")
	return plain, nil
}

// Upload stores data under key with the given content type.
func (c *Client) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 upload %s: %w", key, err)
	}
	log.Info().Str("bucket", c.bucket).Str("key", key).Int("size", len(data)).Msg("uploaded to s3")
	return nil
}

func decryptGCM(data []byte, password string) ([]byte, error) {
	// magic(8) + salt(16) + nonce(12) + ciphertext + tag(16)
	if len(data) < 8+16+12+16 {
		return nil, fmt.Errorf("encrypted data too short: %d bytes", len(data))
	}
	salt := data[8:24]
	nonce := data[24:36]
	ciphertext := data[36:]

	key := pbkdf2.Key([]byte(password), salt, 100000, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("GCM decryption failed: %w", err)
	}
	return plain, nil
}
