package mirror

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"syncd/internal/storage"

	"go.uber.org/zap"
)

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeCopied
	outcomeSkipped
)

// copier handles individual object transfers
type copier struct {
	cfg     Config
	src     storage.Client
	dst     storage.Client
	metrics Metrics
	logger  *zap.Logger
}

// Process copies a single object to the target, retrying transient
// failures with exponential backoff
func (c *copier) Process(ctx context.Context, obj storage.ObjectInfo) (outcome, error) {
	if c.cfg.SkipExisting && c.targetMatches(ctx, obj) {
		c.logger.Debug("Skipping existing object", zap.String("key", obj.Key))
		c.metrics.IncSkipped()
		return outcomeSkipped, nil
	}

	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.Retries; attempt++ {
		err := c.copy(ctx, obj)
		if err == nil {
			c.metrics.IncCopied(obj.Size)
			c.logger.Info("Object copied",
				zap.String("key", obj.Key),
				zap.Int64("size", obj.Size),
				zap.Duration("duration", time.Since(start)),
			)
			return outcomeCopied, nil
		}

		lastErr = err
		c.logger.Warn("Copy attempt failed",
			zap.String("key", obj.Key),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if !isRetriableError(err) {
			break
		}

		if attempt < c.cfg.Retries {
			select {
			case <-time.After(c.backoff(attempt)):
			case <-ctx.Done():
				c.metrics.IncFailed()
				return outcomeFailed, ctx.Err()
			}
		}
	}

	c.metrics.IncFailed()
	c.logger.Error("Object failed after all retries",
		zap.String("key", obj.Key),
		zap.Error(lastErr),
	)
	return outcomeFailed, fmt.Errorf("copy %s: %w", obj.Key, lastErr)
}

func (c *copier) copy(ctx context.Context, obj storage.ObjectInfo) error {
	srcObj, err := c.src.GetObject(ctx, c.cfg.Bucket, obj.Key)
	if err != nil {
		return fmt.Errorf("failed to get source object: %w", err)
	}
	defer srcObj.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	opts := storage.PutOptions{
		ContentType: contentType,
		Metadata:    obj.Metadata,
	}

	return c.dst.PutObject(ctx, c.cfg.Bucket, obj.Key, srcObj, obj.Size, opts)
}

// targetMatches reports whether the target already holds an identical
// copy
func (c *copier) targetMatches(ctx context.Context, obj storage.ObjectInfo) bool {
	info, err := c.dst.HeadObject(ctx, c.cfg.Bucket, obj.Key)
	if err != nil {
		return false
	}

	return info.Size == obj.Size && info.ETag == obj.ETag
}

func (c *copier) backoff(attempt int) time.Duration {
	return c.cfg.RetryBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
}

func isRetriableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "temporary") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "dns") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout")
}
