package oracle

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"time"
)

// EqualityError classifies the first meaningful difference between two
// fingerprints.
type EqualityError int

const (
	EqualityNone EqualityError = iota
	EqualitySocketState
	EqualityMessageContent
	EqualityAlertDescription
	EqualityLength
	EqualityTiming
)

var equalityNames = map[EqualityError]string{
	EqualityNone:             "NONE",
	EqualitySocketState:      "SOCKET_STATE",
	EqualityMessageContent:   "MESSAGE_CONTENT",
	EqualityAlertDescription: "ALERT_DESCRIPTION",
	EqualityLength:           "LENGTH",
	EqualityTiming:           "TIMING",
}

func (e EqualityError) String() string {
	if name, ok := equalityNames[e]; ok {
		return name
	}
	return fmt.Sprintf("EqualityError(%d)", int(e))
}

// ParseEqualityError is the inverse of String. It ignores case.
func ParseEqualityError(s string) (EqualityError, error) {
	for e, name := range equalityNames {
		if strings.EqualFold(name, s) {
			return e, nil
		}
	}
	return EqualityNone, fmt.Errorf("unknown equality error %q", s)
}

// DefaultPrecedence orders difference kinds from most to least significant.
var DefaultPrecedence = []EqualityError{
	EqualitySocketState,
	EqualityMessageContent,
	EqualityAlertDescription,
	EqualityLength,
	EqualityTiming,
}

// rank returns the position of e in precedence; kinds not listed rank last.
func rank(precedence []EqualityError, e EqualityError) int {
	if i := slices.Index(precedence, e); i >= 0 {
		return i
	}
	return len(precedence)
}

// Comparator classifies the difference between two fingerprints.
type Comparator interface {
	Compare(a, b ResponseFingerprint) EqualityError
}

// ComparatorFunc adapts a function to Comparator.
type ComparatorFunc func(a, b ResponseFingerprint) EqualityError

// Compare calls f.
func (f ComparatorFunc) Compare(a, b ResponseFingerprint) EqualityError { return f(a, b) }

// DefaultComparator checks each difference kind in precedence order and
// returns the first that applies. Timing only counts when TimingTolerance
// is positive.
type DefaultComparator struct {
	Precedence      []EqualityError
	TimingTolerance time.Duration
}

// Compare implements Comparator.
func (c DefaultComparator) Compare(a, b ResponseFingerprint) EqualityError {
	precedence := c.Precedence
	if len(precedence) == 0 {
		precedence = DefaultPrecedence
	}
	for _, kind := range precedence {
		if c.differs(kind, a, b) {
			return kind
		}
	}
	return EqualityNone
}

func (c DefaultComparator) differs(kind EqualityError, a, b ResponseFingerprint) bool {
	switch kind {
	case EqualitySocketState:
		return a.SocketState != b.SocketState
	case EqualityMessageContent:
		return !slices.Equal(a.MessageKinds, b.MessageKinds) ||
			a.LastKind != b.LastKind ||
			!bytes.Equal(a.LastPayload, b.LastPayload)
	case EqualityAlertDescription:
		return !slices.Equal(a.Alerts, b.Alerts)
	case EqualityLength:
		return !slices.Equal(a.RecordLengths, b.RecordLengths)
	case EqualityTiming:
		if c.TimingTolerance <= 0 {
			return false
		}
		d := a.Elapsed - b.Elapsed
		if d < 0 {
			d = -d
		}
		return d > c.TimingTolerance
	}
	return false
}
