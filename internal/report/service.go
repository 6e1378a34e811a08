package report

import (
	"context"
	"time"

	"callbridge/internal/store"
)

// Summary aggregates finalized calls over a window.
type Summary struct {
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
	QueueID string    `json:"queue_id,omitempty"`

	Total     int `json:"total"`
	Completed int `json:"completed"`
	Abandoned int `json:"abandoned"`
	Failed    int `json:"failed"`

	AvgWaitSeconds float64 `json:"avg_wait_seconds"`
	AvgTalkSeconds float64 `json:"avg_talk_seconds"`
	MaxWaitSeconds int     `json:"max_wait_seconds"`
}

type Service struct {
	records store.Repository
}

func NewService(records store.Repository) *Service {
	return &Service{records: records}
}

func (s *Service) Summarize(ctx context.Context, from, to time.Time, queueID string) (Summary, error) {
	recs, err := s.records.List(ctx, from, to, queueID)
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{From: from, To: to, QueueID: queueID, Total: len(recs)}
	var waitTotal, talkTotal, answered int
	for _, rec := range recs {
		switch rec.Outcome {
		case store.OutcomeCompleted:
			sum.Completed++
			talkTotal += rec.TalkSeconds
			answered++
		case store.OutcomeAbandoned:
			sum.Abandoned++
		case store.OutcomeFailed:
			sum.Failed++
		}
		waitTotal += rec.WaitSeconds
		if rec.WaitSeconds > sum.MaxWaitSeconds {
			sum.MaxWaitSeconds = rec.WaitSeconds
		}
	}
	if sum.Total > 0 {
		sum.AvgWaitSeconds = float64(waitTotal) / float64(sum.Total)
	}
	if answered > 0 {
		sum.AvgTalkSeconds = float64(talkTotal) / float64(answered)
	}
	return sum, nil
}
