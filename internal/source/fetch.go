package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/pagebinder/internal/storage"
)

// fetch resolves ref to a local path. The second return is true when the path
// is a temp copy the caller owns.
func fetch(ctx context.Context, ref, password string) (string, bool, error) {
	switch {
	case strings.HasPrefix(ref, "s3://"):
		p, err := fetchS3(ctx, ref, password)
		return p, true, err
	case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
		p, err := fetchHTTP(ctx, ref)
		return p, true, err
	case strings.HasPrefix(ref, "file://"):
		return strings.TrimPrefix(ref, "file://"), false, nil
	default:
		// treat as filesystem path
		return ref, false, nil
	}
}

func fetchHTTP(ctx context.Context, url string) (string, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil { return "", err }
	defer resp.Body.Close()
	if resp.StatusCode != 200 { return "", fmt.Errorf("http %d fetching %s", resp.StatusCode, url) }
	f, err := os.CreateTemp("", "pbsrc-*.pdf")
	if err != nil { return "", err }
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func fetchS3(ctx context.Context, s3url, password string) (string, error) {
	// s3://bucket/key
	path := strings.TrimPrefix(s3url, "s3://")
	slash := strings.Index(path, "/")
	if slash <= 0 { return "", fmt.Errorf("invalid s3 url: %s", s3url) }
	bucket := path[:slash]
	key := path[slash+1:]

	cli, err := storage.New(ctx, bucket)
	if err != nil { return "", err }
	data, err := cli.Download(ctx, key, password)
	if err != nil { return "", err }

	f, err := os.CreateTemp("", "pbsrc-*.pdf")
	if err != nil { return "", err }
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	log.Debug().Str("bucket", bucket).Str("key", key).Int("size", len(data)).Msg("fetched s3 source to temp")
	return f.Name(), nil
}
