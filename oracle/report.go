package oracle

import (
	"fmt"
	"strings"
)

// Verdict is the outcome of an oracle scan.
type Verdict string

const (
	// VerdictNotVulnerable means every response looked the same.
	VerdictNotVulnerable Verdict = "NOT_VULNERABLE"

	// VerdictVulnerable means at least two responses were distinguishable.
	VerdictVulnerable Verdict = "VULNERABLE"

	// VerdictUnknown means no comparable baseline could be established.
	VerdictUnknown Verdict = "UNKNOWN"
)

// verdictFor maps the batch equality result to a verdict.
func verdictFor(eq EqualityError) Verdict {
	if eq == EqualityNone {
		return VerdictNotVulnerable
	}
	return VerdictVulnerable
}

// VectorResponse pairs a vector with the fingerprint it produced.
type VectorResponse struct {
	Vector      Vector
	Iteration   int
	Fingerprint ResponseFingerprint
}

// ErroneousScan records a task excluded from comparison.
type ErroneousScan struct {
	Vector    string
	Iteration int
	Err       error
}

// Report is the full result of one scan.
type Report struct {
	ScanID string
	Attack string
	Target string

	Verdict  Verdict
	Equality EqualityError

	// Differing names the two vectors that produced Equality, if any.
	Differing []string

	Responses      []VectorResponse
	ErroneousScans []ErroneousScan

	// Reason explains an UNKNOWN verdict.
	Reason string
}

// Vulnerable reports whether the scan found distinguishable responses.
func (r *Report) Vulnerable() bool {
	return r.Verdict == VerdictVulnerable
}

// Summary renders a short human-readable report.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "scan %s", r.ScanID)
	if r.Attack != "" {
		fmt.Fprintf(&b, " attack=%s", r.Attack)
	}
	if r.Target != "" {
		fmt.Fprintf(&b, " target=%s", r.Target)
	}
	fmt.Fprintf(&b, "\nverdict: %s (equality %s)\n", r.Verdict, r.Equality)
	if r.Reason != "" {
		fmt.Fprintf(&b, "reason: %s\n", r.Reason)
	}
	if len(r.Differing) == 2 {
		fmt.Fprintf(&b, "differing vectors: %s vs %s\n", r.Differing[0], r.Differing[1])
	}
	fmt.Fprintf(&b, "responses: %d, erroneous: %d\n", len(r.Responses), len(r.ErroneousScans))
	for _, resp := range r.Responses {
		fmt.Fprintf(&b, "  [%d] %-24s %s\n", resp.Iteration, resp.Vector.Name(), resp.Fingerprint)
	}
	for _, e := range r.ErroneousScans {
		fmt.Fprintf(&b, "  [%d] %-24s error: %v\n", e.Iteration, e.Vector, e.Err)
	}
	return b.String()
}
