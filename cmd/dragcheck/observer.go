package main

import (
	"dragcheck/internal/challenge"
	"dragcheck/internal/logging"
	"dragcheck/internal/telemetry"
	"dragcheck/internal/verify"
)

// auditObserver appends verifications and resets to the audit trail.
type auditObserver struct {
	audit  *logging.AuditLogger
	logger *logging.Logger
}

func (o *auditObserver) SampleDiscarded(telemetry.DiscardReason) {}

func (o *auditObserver) DropResolved(string, challenge.DropOutcome) {}

func (o *auditObserver) Verified(res verify.Result) {
	if !res.Scored() {
		return
	}
	reasons := make([]string, 0, len(res.Verdict.Reasons))
	for _, r := range res.Verdict.Reasons {
		reasons = append(reasons, string(r))
	}
	if err := o.audit.LogVerification(res.AttemptID, string(res.Outcome), reasons); err != nil {
		o.logger.Warn("audit verification", "error", err)
	}
}

func (o *auditObserver) AttemptReset(attemptID string, restart bool) {
	if err := o.audit.LogReset(attemptID, restart); err != nil {
		o.logger.Warn("audit reset", "error", err)
	}
}
