package aws_s3

import (
	"context"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/fwbank/swupdate/fs"
)

// FetchArchive downloads the update archive object bucket/key into stagingDir
// and returns the local file path, ready to hand to update.Run. The staging
// directory is created if needed; an existing staged file of the same name is
// overwritten.
func FetchArchive(ctx context.Context, s3Client *s3.Client, bucket, key, stagingDir string) (string, error) {
	if s3Client == nil {
		return "", fmt.Errorf("s3Client parameter can't be nil")
	}
	fio := fs.NewFileIO()
	if !fio.Exists(ctx, stagingDir) {
		if err := fio.MkdirAll(ctx, stagingDir, 0o755); err != nil {
			return "", fmt.Errorf("couldn't create staging dir %s, details: %v", stagingDir, err)
		}
	}

	localPath := filepath.Join(stagingDir, filepath.Base(key))
	f, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("couldn't create staged archive %s, details: %v", localPath, err)
	}
	defer f.Close()

	downloader := manager.NewDownloader(s3Client)
	n, err := downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		// Don't leave a truncated archive lying around for a later run to pick up.
		os.Remove(localPath)
		return "", fmt.Errorf("couldn't download archive %s from bucket %s, details: %v", key, bucket, err)
	}
	log.Debug(fmt.Sprintf("staged archive %s (%d bytes) from bucket %s", localPath, n, bucket))
	return localPath, nil
}
