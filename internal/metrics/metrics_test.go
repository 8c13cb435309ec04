package metrics

import (
	"errors"
	"math"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dragcheck/internal/challenge"
	"dragcheck/internal/engine"
	"dragcheck/internal/forensics"
	"dragcheck/internal/telemetry"
	"dragcheck/internal/verify"
)

var _ engine.Observer = (*Collector)(nil)

func newCollector(t *testing.T) *Collector {
	t.Helper()
	c, err := New(prometheus.NewRegistry())
	require.NoError(t, err)
	return c
}

func TestDuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}

func TestSampleDiscarded(t *testing.T) {
	c := newCollector(t)
	c.SampleDiscarded(telemetry.DiscardOrigin)
	c.SampleDiscarded(telemetry.DiscardOrigin)
	c.SampleDiscarded(telemetry.DiscardOutOfOrder)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.SamplesDiscarded.WithLabelValues("origin")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SamplesDiscarded.WithLabelValues("out-of-order")))
}

func TestDropResolved(t *testing.T) {
	c := newCollector(t)
	c.DropResolved("a", challenge.DropOutcome{Matched: false})
	c.DropResolved("a", challenge.DropOutcome{Matched: true})
	c.DropResolved("a", challenge.DropOutcome{Matched: true, Ignored: true})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Drops.WithLabelValues("mismatch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Drops.WithLabelValues("match")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Drops.WithLabelValues("ignored")))
}

func TestVerified(t *testing.T) {
	c := newCollector(t)

	c.Verified(verify.Result{Outcome: verify.OutcomeIgnored})
	c.Verified(verify.Result{
		Outcome: verify.OutcomeRejected,
		Metrics: forensics.Metrics{SearchTime: 0.05, Accuracy: 40},
		Verdict: forensics.Verdict{Suspicious: true, Reasons: []forensics.Reason{forensics.ReasonTooFast}},
	})
	c.Verified(verify.Result{
		Outcome: verify.OutcomeRejected,
		Metrics: forensics.Metrics{SearchTime: math.NaN(), Accuracy: 0},
		Verdict: forensics.Verdict{Suspicious: true, Reasons: []forensics.Reason{forensics.ReasonInsufficientSamples, forensics.ReasonMissingData}},
	})
	c.Verified(verify.Result{
		Outcome: verify.OutcomeAccepted,
		Metrics: forensics.Metrics{SearchTime: 1.5, Accuracy: 70},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Verifications.WithLabelValues("ignored")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Verifications.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Verifications.WithLabelValues("accepted")))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Rejections.WithLabelValues("too-fast")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Rejections.WithLabelValues("insufficient-samples")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Rejections.WithLabelValues("missing-data")))

	// Three scored results observe accuracy; NaN search time is skipped.
	assert.Equal(t, 1, testutil.CollectAndCount(c.Accuracy))
	body := gather(t, c)
	assert.Contains(t, body, "dragcheck_accuracy_score_count 3")
	assert.Contains(t, body, "dragcheck_search_time_seconds_count 2")
}

func TestResetsAndReplays(t *testing.T) {
	c := newCollector(t)
	c.AttemptReset("a", false)
	c.AttemptReset("b", true)
	c.ReplayFinished(nil, time.Unix(1700000000, 0))
	c.ReplayFinished(errors.New("bad"), time.Unix(1700000100, 0))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Resets))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Replays.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Replays.WithLabelValues("error")))
	assert.Equal(t, 1700000100.0, testutil.ToFloat64(c.LastReplay))
}

func TestHandlerServesExposition(t *testing.T) {
	c := newCollector(t)
	c.AttemptReset("a", false)

	body := gather(t, c)
	assert.Contains(t, body, "# HELP dragcheck_resets_total")
	assert.Contains(t, body, "dragcheck_resets_total 1")
}

func TestWriteTextfile(t *testing.T) {
	c := newCollector(t)
	c.SampleDiscarded(telemetry.DiscardNonFinite)

	path := filepath.Join(t.TempDir(), "dragcheck.prom")
	require.NoError(t, c.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `dragcheck_samples_discarded_total{reason="non-finite"} 1`))
}

func gather(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}
