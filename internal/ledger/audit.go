package ledger

import (
	"context"
	"errors"
	"fmt"

	"qaboard/internal/models"
	"qaboard/internal/store"
)

// AuditReport compares an answer's stored counters with its votes.
type AuditReport struct {
	AnswerID string       `json:"answer_id"`
	Stored   models.Tally `json:"stored"`
	Counted  models.Tally `json:"counted"`
	Votes    int          `json:"votes"`
}

func (r AuditReport) Consistent() bool {
	return r.Stored == r.Counted
}

// Audit recounts the votes of answerID. The answer and its votes are read
// separately, so only a quiescent answer gives a meaningful report.
func (l *Ledger) Audit(ctx context.Context, answerID string) (AuditReport, error) {
	answer, err := l.store.GetAnswer(ctx, answerID)
	if errors.Is(err, store.ErrNotFound) {
		return AuditReport{}, ErrNotFound
	}
	if err != nil {
		return AuditReport{}, fmt.Errorf("audit %s: %w", answerID, err)
	}

	votes, err := l.store.ListVotes(ctx, answerID)
	if err != nil {
		return AuditReport{}, fmt.Errorf("audit %s: %w", answerID, err)
	}

	report := AuditReport{AnswerID: answerID, Stored: answer.Tally(), Votes: len(votes)}
	for _, v := range votes {
		report.Counted = report.Counted.Apply(0, v.Value)
	}

	if !report.Consistent() {
		l.logger.Warn("tally does not match votes",
			"event", "ledger.audit_mismatch",
			"answer_id", answerID,
			"stored", report.Stored,
			"counted", report.Counted,
		)
	}
	return report, nil
}
