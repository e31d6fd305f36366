package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pdfsearch/internal/apperr"
)

// Verdict is the outcome of screening one file. The zero value is
// VerdictScanFailed so an unset verdict never admits a file.
type Verdict int

const (
	VerdictScanFailed Verdict = iota
	VerdictClean
	VerdictMalicious
)

func (v Verdict) String() string {
	switch v {
	case VerdictClean:
		return "clean"
	case VerdictMalicious:
		return "malicious"
	default:
		return "scan-failed"
	}
}

// Classifier decides from a feature vector whether a PDF is malicious.
type Classifier interface {
	Classify(ctx context.Context, features FeatureVector) (bool, error)
}

type Result struct {
	Verdict  Verdict
	Features *FeatureVector
	// Err is set for VerdictScanFailed and wraps apperr.ErrScan.
	Err error
}

func (r Result) Reason() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	return r.Verdict.String()
}

type Scanner struct {
	classifier Classifier
	timeout    time.Duration
	extract    func([]byte) (FeatureVector, error)
}

func NewScanner(c Classifier, timeout time.Duration) *Scanner {
	return &Scanner{classifier: c, timeout: timeout, extract: ExtractFeatures}
}

// WithExtractor swaps the feature extractor, mainly for tests that do not
// carry real PDF fixtures.
func (s *Scanner) WithExtractor(fn func([]byte) (FeatureVector, error)) *Scanner {
	s.extract = fn
	return s
}

// Scan profiles the file and asks the classifier for a verdict. Any
// failure along the way ends in VerdictScanFailed.
func (s *Scanner) Scan(ctx context.Context, data []byte) Result {
	features, err := s.extract(data)
	if err != nil {
		slog.WarnContext(ctx, "feature extraction failed", "error", err, "size", len(data))
		return Result{Verdict: VerdictScanFailed, Err: wrapScan("extract features", err)}
	}

	if s.classifier == nil {
		return Result{Verdict: VerdictScanFailed, Features: &features, Err: apperr.Scan("no classifier configured", nil)}
	}

	cctx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	malicious, err := s.classifier.Classify(cctx, features)
	if err != nil {
		slog.WarnContext(ctx, "classifier unavailable", "error", err)
		return Result{Verdict: VerdictScanFailed, Features: &features, Err: apperr.Scan("classify", err)}
	}

	if malicious {
		slog.WarnContext(ctx, "malicious pdf detected", "size", features.PDFSize, "javascript", features.JavaScript, "launch", features.Launch)
		return Result{Verdict: VerdictMalicious, Features: &features}
	}
	return Result{Verdict: VerdictClean, Features: &features}
}

func wrapScan(op string, err error) error {
	if errors.Is(err, apperr.ErrScan) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return apperr.Scan(op, err)
}
