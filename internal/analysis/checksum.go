package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/deepfake-scanner/backend/internal/models"
)

const checksumChunk = 1 << 20

// ChecksumAnalyzer fingerprints the stored upload. It stands in for a real
// detector when the service runs without an external worker.
type ChecksumAnalyzer struct{}

func (ChecksumAnalyzer) Analyze(ctx context.Context, job models.AnalysisJob, progress func(percent int)) (map[string]interface{}, error) {
	f, err := os.Open(job.StoredPath)
	if err != nil {
		return nil, fmt.Errorf("opening upload: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, checksumChunk)
	var read int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			read += int64(n)
			if job.Size > 0 {
				progress(int(read * 99 / job.Size))
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading upload: %w", err)
		}
	}

	return map[string]interface{}{
		"sha256":     hex.EncodeToString(h.Sum(nil)),
		"bytes":      read,
		"media_type": job.MediaType,
	}, nil
}
