// Package digest computes the content fingerprints used for change detection.
package digest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	internal "github.com/ZanzyTHEbar/enhanced-archive-extractor/eae"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/filesystem/common"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/metrics"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// Hash returns the lowercase hex SHA-1 of the file at path.
func Hash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// RetryConfig configures retries of transient I/O errors. Zero MaxRetries
// retries until the context is cancelled.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns the backoff used while the extractor is still
// writing the files being hashed.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// Digester hashes files, retrying the ones still held by another process.
type Digester struct {
	retry   RetryConfig
	hash    func(path string) (string, error)
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewDigester creates a digester. m may be nil.
func NewDigester(retry RetryConfig, m *metrics.Metrics, logger zerolog.Logger) *Digester {
	if retry.InitialBackoff <= 0 {
		retry.InitialBackoff = DefaultRetryConfig().InitialBackoff
	}
	if retry.MaxBackoff < retry.InitialBackoff {
		retry.MaxBackoff = retry.InitialBackoff
	}
	return &Digester{
		retry:   retry,
		hash:    Hash,
		metrics: m,
		logger:  logger.With().Str("component", "digester").Logger(),
	}
}

// Hash digests path once without retrying.
func (d *Digester) Hash(path string) (string, error) {
	sum, err := d.hash(path)
	if err != nil {
		if common.IsNotFound(err) {
			return "", fmt.Errorf("%w: %s", common.ErrFileVanished, path)
		}
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	d.metrics.FileHashed()
	return sum, nil
}

// HashAsync digests path, retrying transient errors with capped exponential
// backoff. A file that disappears returns ErrFileVanished; callers leave
// that entry unrecorded.
func (d *Digester) HashAsync(ctx context.Context, path string) (string, error) {
	backoff := d.retry.InitialBackoff

	for attempt := 0; ; attempt++ {
		sum, err := d.hash(path)
		if err == nil {
			d.metrics.FileHashed()
			return sum, nil
		}
		if common.IsNotFound(err) {
			d.metrics.FileVanished()
			return "", fmt.Errorf("%w: %s", common.ErrFileVanished, path)
		}
		if !common.IsTransient(err) {
			d.metrics.HashFailed()
			return "", fmt.Errorf("hash %s: %w", path, err)
		}
		if d.retry.MaxRetries > 0 && attempt >= d.retry.MaxRetries {
			d.metrics.HashFailed()
			return "", fmt.Errorf("hash %s after %d retries: %w", path, attempt, err)
		}

		d.metrics.HashRetried()
		d.logger.Debug().Err(err).Str("path", path).Dur("backoff", backoff).Int("attempt", attempt+1).Msg("File busy, retrying")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
		if backoff > d.retry.MaxBackoff {
			backoff = d.retry.MaxBackoff
		}
	}
}

// BatchOptions bounds a bulk hashing run.
type BatchOptions struct {
	Workers int
	// YieldEvery pauses scheduling for YieldPause after that many files so
	// bulk hashing does not monopolize the disk.
	YieldEvery int
	YieldPause time.Duration
	// Progress is called with the number of finished files.
	Progress func(done, total int)
}

// DefaultBatchOptions returns the first-run hashing settings.
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{
		Workers:    internal.DefaultHashWorkers(),
		YieldEvery: internal.DefaultHashYieldEvery,
		YieldPause: 500 * time.Millisecond,
	}
}

// BatchResult counts the outcome of HashAll.
type BatchResult struct {
	Hashed   int
	Vanished int
	Failed   int
}

// HashAll digests paths concurrently with HashAsync and hands each result to
// record, which may be called from several goroutines at once.
func (d *Digester) HashAll(ctx context.Context, paths []string, opts BatchOptions, record func(path, digest string)) (BatchResult, error) {
	if opts.Workers <= 0 {
		opts.Workers = internal.DefaultHashWorkers()
	}

	var hashed, vanished, failed, done atomic.Int64
	total := len(paths)

	p := pool.New().WithMaxGoroutines(opts.Workers).WithContext(ctx)

	for i, path := range paths {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && opts.YieldEvery > 0 && i%opts.YieldEvery == 0 && opts.YieldPause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(opts.YieldPause):
			}
		}

		p.Go(func(ctx context.Context) error {
			defer func() {
				n := done.Add(1)
				if opts.Progress != nil {
					opts.Progress(int(n), total)
				}
			}()

			sum, err := d.HashAsync(ctx, path)
			switch {
			case err == nil:
				record(path, sum)
				hashed.Add(1)
			case common.IsNotFound(err):
				vanished.Add(1)
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				failed.Add(1)
				d.logger.Warn().Err(err).Str("path", path).Msg("Could not hash file")
			}
			return nil
		})
	}

	err := p.Wait()
	if err == nil {
		err = ctx.Err()
	}

	result := BatchResult{
		Hashed:   int(hashed.Load()),
		Vanished: int(vanished.Load()),
		Failed:   int(failed.Load()),
	}
	return result, err
}
