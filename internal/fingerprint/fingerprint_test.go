package fingerprint_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gyaneshwarpardhi/hrguard/internal/fingerprint"
	"github.com/gyaneshwarpardhi/hrguard/internal/rules"
)

var parts = fingerprint.Parts{RuleID: "AUTH_BRUTE_FORCE", SourceIP: "10.0.0.9"}

func TestBucket(t *testing.T) {
	w := 10 * time.Minute
	base := time.UnixMilli(0).Add(30 * time.Minute)
	assert.Equal(t, int64(3), fingerprint.Bucket(base, w))
	assert.Equal(t, int64(3), fingerprint.Bucket(base.Add(9*time.Minute+59*time.Second), w))
	assert.Equal(t, int64(4), fingerprint.Bucket(base.Add(10*time.Minute), w))
	assert.Equal(t, int64(-1), fingerprint.Bucket(time.UnixMilli(-1), w))
	assert.Equal(t, int64(0), fingerprint.Bucket(base, 0))
}

func TestFingerprint_SameBucketStable(t *testing.T) {
	w := 10 * time.Minute
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a := fingerprint.Fingerprint(parts, at, w)
	b := fingerprint.Fingerprint(parts, at.Add(5*time.Minute), w)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprint_BucketBoundary(t *testing.T) {
	w := 10 * time.Minute
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	assert.NotEqual(t, fingerprint.Fingerprint(parts, at, w), fingerprint.Fingerprint(parts, at.Add(w), w))
	assert.Equal(t, fingerprint.CorrelationKey(parts), fingerprint.CorrelationKey(parts))
}

func TestIdentities_DependOnEveryPart(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	base := fingerprint.CorrelationKey(parts)
	variants := []fingerprint.Parts{
		{RuleID: "MASS_EXPORT", SourceIP: "10.0.0.9"},
		{RuleID: "AUTH_BRUTE_FORCE", SourceIP: "10.0.0.10"},
		{RuleID: "AUTH_BRUTE_FORCE", SourceIP: "10.0.0.9", Actor: "a@corp.com"},
		{RuleID: "AUTH_BRUTE_FORCE", SourceIP: "10.0.0.9", Module: "auth"},
		{RuleID: "AUTH_BRUTE_FORCE", SourceIP: "10.0.0.9", Target: "x"},
	}
	for _, v := range variants {
		assert.NotEqual(t, base, fingerprint.CorrelationKey(v), "%+v", v)
	}
	assert.NotEqual(t, base, fingerprint.Fingerprint(parts, at, time.Minute), "fingerprint and key never collide")
}

func TestIdentities_Normalized(t *testing.T) {
	a := fingerprint.Parts{RuleID: "MASS_EXPORT", Actor: " Eve@Corp.com"}
	b := fingerprint.Parts{RuleID: "MASS_EXPORT", Actor: "eve@corp.com"}
	assert.Equal(t, fingerprint.CorrelationKey(a), fingerprint.CorrelationKey(b))
}

func TestForFinding(t *testing.T) {
	f := &rules.Finding{
		RuleID:        "MASS_EXPORT",
		WindowMinutes: 20,
		Subject:       rules.Subject{Actor: "eve@corp.com"},
		ObservedAt:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	fp, key := fingerprint.ForFinding(f)
	p := fingerprint.Parts{RuleID: "MASS_EXPORT", Actor: "eve@corp.com"}
	assert.Equal(t, fingerprint.Fingerprint(p, f.ObservedAt, 20*time.Minute), fp)
	assert.Equal(t, fingerprint.CorrelationKey(p), key)
}
