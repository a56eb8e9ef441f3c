// Package fingerprint derives the identities used to deduplicate detections.
//
// A Fingerprint names one burst: it includes the time bucket, so the same
// subject in a later window gets a new value. A CorrelationKey names the
// incident lineage and is stable across buckets.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/hrguard/internal/rules"
)

// Parts is the tuple both identities are computed from.
type Parts struct {
	RuleID   string
	Actor    string
	SourceIP string
	Module   string
	Target   string
}

// FromFinding extracts Parts from a finding's rule and subject.
func FromFinding(f *rules.Finding) Parts {
	return Parts{
		RuleID:   f.RuleID,
		Actor:    f.Subject.Actor,
		SourceIP: f.Subject.SourceIP,
		Module:   f.Subject.Module,
		Target:   f.Subject.Target,
	}
}

// Bucket returns floor(ts / window). A non-positive window yields bucket 0.
func Bucket(ts time.Time, window time.Duration) int64 {
	if window <= 0 {
		return 0
	}
	ms := ts.UnixMilli()
	w := window.Milliseconds()
	b := ms / w
	if ms < 0 && ms%w != 0 {
		b--
	}
	return b
}

// Fingerprint returns the bucket-scoped identity of p at ts.
func Fingerprint(p Parts, ts time.Time, window time.Duration) string {
	return digest("fp", p, strconv.FormatInt(Bucket(ts, window), 10))
}

// CorrelationKey returns the bucket-free identity of p.
func CorrelationKey(p Parts) string {
	return digest("ck", p, "")
}

// ForFinding computes both identities for f.
func ForFinding(f *rules.Finding) (fp, key string) {
	p := FromFinding(f)
	return Fingerprint(p, f.ObservedAt, f.Window()), CorrelationKey(p)
}

func digest(kind string, p Parts, bucket string) string {
	norm := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	h := sha256.New()
	for _, s := range []string{kind, p.RuleID, norm(p.Actor), norm(p.SourceIP), norm(p.Module), norm(p.Target), bucket} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
