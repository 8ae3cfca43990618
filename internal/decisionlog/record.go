// Package decisionlog persists routing decisions as an audit trail: JSONL
// files with gzip archival, a SQLite table for queries, and MQTT
// publication for live consumers.
package decisionlog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/clawinfra/clawroute/internal/router"
)

// Record is one audited routing decision.
type Record struct {
	Timestamp   time.Time              `json:"timestamp"`
	RequestID   string                 `json:"requestId"`
	Channel     string                 `json:"channel,omitempty"`
	Tier        router.Tier            `json:"tier"`
	Model       string                 `json:"model"`
	Fallback    string                 `json:"fallback,omitempty"`
	Substituted bool                   `json:"substituted,omitempty"` // primary was degraded, fallback served
	Confidence  float64                `json:"confidence"`
	TotalScore  float64                `json:"totalScore"`
	Rule        string                 `json:"rule"`
	Rationale   string                 `json:"rationale"`
	Scores      router.DimensionScores `json:"scores"`
	ElapsedUs   int64                  `json:"elapsedUs"`
}

// NewRecord builds an audit record from a routing result. An empty
// requestID gets a fresh UUID.
func NewRecord(requestID, channel string, res router.RoutingResult) Record {
	if requestID == "" {
		requestID = uuid.New().String()
	}
	return Record{
		Timestamp:  time.Now().UTC(),
		RequestID:  requestID,
		Channel:    channel,
		Tier:       res.Tier,
		Model:      res.Model,
		Fallback:   res.Fallback,
		Confidence: res.Confidence,
		TotalScore: res.TotalScore,
		Rule:       res.Rule,
		Rationale:  res.Rationale,
		Scores:     res.Scores,
		ElapsedUs:  res.Elapsed.Microseconds(),
	}
}

// Sink receives audit records.
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

// MultiSink fans a record out to every sink. Each sink is attempted even
// when an earlier one fails; the errors are joined.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pruner removes entries older than a cutoff and reports how many went.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}
