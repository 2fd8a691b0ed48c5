package analyzer

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

const (
	createAttempts = 3
	createBackoff  = 2 * time.Second

	pollAttempts = 60

	temporaryBackoffCap = 90 * time.Second
)

var pollInterval = 5 * time.Second

// CreatePredictionWithRetry retries prediction creation with linear
// backoff (2s, 4s, 6s).
func CreatePredictionWithRetry(ctx context.Context, client PredictionClient, model string, input map[string]interface{}) (*Prediction, error) {
	var lastErr error
	for attempt := 1; attempt <= createAttempts; attempt++ {
		pred, err := client.CreatePrediction(ctx, model, input)
		if err == nil {
			return pred, nil
		}
		lastErr = err
		log.Printf("[Analyzer] Create attempt %d/%d failed: %v", attempt, createAttempts, err)
		if attempt < createAttempts {
			select {
			case <-time.After(time.Duration(attempt) * createBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("prediction create failed after %d attempts: %v", createAttempts, lastErr)
}

// Poll waits for the prediction to reach a terminal status, checking
// every five seconds for up to five minutes.
func Poll(ctx context.Context, client PredictionClient, id string) (*Prediction, error) {
	for attempt := 0; attempt < pollAttempts; attempt++ {
		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		pred, err := client.GetPrediction(ctx, id)
		if err != nil {
			log.Printf("[Analyzer] Poll error for %s: %v", id, err)
			continue
		}
		switch pred.Status {
		case StatusSucceeded:
			return pred, nil
		case StatusFailed, StatusCanceled:
			return pred, fmt.Errorf("prediction %s ended as %s: %s", id, pred.Status, pred.Error)
		}
	}
	return nil, fmt.Errorf("prediction %s did not finish within %v", id, time.Duration(pollAttempts)*pollInterval)
}

// IsTemporary reports whether an analysis failure is a known transient
// condition worth retrying on another client.
func IsTemporary(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(msg, "E6716") ||
		strings.Contains(msg, "E004") ||
		strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "timed out")
}

// TemporaryBackoff returns the wait before retrying a temporary failure:
// quadratic in the attempt number, capped at 90 seconds.
func TemporaryBackoff(attempt int) time.Duration {
	d := time.Duration(attempt*attempt) * 5 * time.Second
	if d > temporaryBackoffCap {
		return temporaryBackoffCap
	}
	return d
}
