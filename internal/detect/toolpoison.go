package detect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mcpwatch/mcpwatch/pkg/types"
)

// Evaluator produces a misalignment score (0 aligned, 100 fully misaligned)
// for a declared tool specification versus its actual invocation arguments.
// Implementations may be I/O-bound (external semantic evaluation) and may be
// non-deterministic run-to-run; Deterministic reports which.
type Evaluator interface {
	Score(ctx context.Context, spec string, args json.RawMessage) (int, error)
	Deterministic() bool
}

// Score thresholds mapping to severity bands.
const (
	poisonBandLow    = 25
	poisonBandMedium = 50
	poisonBandHigh   = 75
)

// ToolPoisonEngine scores tool invocations semantically. It runs
// asynchronously so a slow or unavailable evaluator cannot stall the
// interception path; findings are delivered on the pipeline's result channel
// when ready, tagged to the originating message id.
type ToolPoisonEngine struct {
	eval    Evaluator
	cache   *lru.Cache[string, int]
	timeout time.Duration
	logger  *slog.Logger
	pending sync.WaitGroup
}

// NewToolPoisonEngine creates the semantic engine. Scores are cached by
// (spec, args) hash: semantic evaluation is expensive and repeated identical
// invocations are common.
func NewToolPoisonEngine(eval Evaluator, cacheSize int, timeout time.Duration, logger *slog.Logger) *ToolPoisonEngine {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, _ := lru.New[string, int](cacheSize)
	return &ToolPoisonEngine{eval: eval, cache: cache, timeout: timeout, logger: logger}
}

func (e *ToolPoisonEngine) Name() string { return "tool_poisoning" }

func cacheKey(spec string, args json.RawMessage) string {
	h := sha256.New()
	h.Write([]byte(spec))
	h.Write([]byte{0})
	h.Write(args)
	return hex.EncodeToString(h.Sum(nil))
}

// EvaluateAsync submits msg for semantic scoring. It returns immediately;
// the finding, if the score crosses a band, is sent on out when ready.
func (e *ToolPoisonEngine) EvaluateAsync(ctx context.Context, msg types.CanonicalMessage, out chan<- types.Finding) {
	if msg.ToolName == "" {
		return
	}
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()

		key := cacheKey(msg.ToolSpec, msg.ToolArgs)
		score, hit := e.cache.Get(key)
		if !hit {
			// The timeout, not caller cancellation, bounds the evaluation:
			// messages already accepted still score during shutdown drain.
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
			defer cancel()
			var err error
			score, err = e.eval.Score(cctx, msg.ToolSpec, msg.ToolArgs)
			if err != nil {
				e.logger.Warn("tool_poisoning: evaluation failed", "tool", msg.ToolName, "error", err)
				return
			}
			e.cache.Add(key, score)
		}

		severity := poisonSeverity(score)
		if severity == types.SeverityNone {
			return
		}

		f := newFinding(e.Name(), msg, severity, score, "tool_poisoning",
			fmt.Sprintf("tool %q arguments diverge from declared specification", msg.ToolName))
		f.Deterministic = e.eval.Deterministic()

		// Consumers read out until the pipeline closes it; findings for
		// accepted messages are never discarded on cancellation.
		out <- f
	}()
}

// Wait blocks until all in-flight semantic evaluations finish.
func (e *ToolPoisonEngine) Wait() { e.pending.Wait() }

func poisonSeverity(score int) types.Severity {
	switch {
	case score >= poisonBandHigh:
		return types.SeverityHigh
	case score >= poisonBandMedium:
		return types.SeverityMedium
	case score >= poisonBandLow:
		return types.SeverityLow
	default:
		return types.SeverityNone
	}
}

// StaticEvaluator is the built-in deterministic evaluator used when no
// external semantic evaluator is configured. It scores a fixed set of
// divergence signals between the declared spec and the observed arguments.
type StaticEvaluator struct{}

func (StaticEvaluator) Deterministic() bool { return true }

var (
	staticShellMeta = regexp.MustCompile("[;&|`$]|\\$\\(")
	staticURL       = regexp.MustCompile(`https?://`)
)

func (StaticEvaluator) Score(_ context.Context, spec string, args json.RawMessage) (int, error) {
	a := strings.ToLower(string(args))
	s := strings.ToLower(spec)
	if a == "" {
		return 0, nil
	}

	score := 0
	if staticShellMeta.MatchString(a) && !strings.Contains(s, "command") && !strings.Contains(s, "execute") && !strings.Contains(s, "shell") {
		score += 45
	}
	for _, marker := range []string{".ssh", "/etc/shadow", "/etc/passwd", "credential", "secret", "token"} {
		if strings.Contains(a, marker) && !strings.Contains(s, "credential") && !strings.Contains(s, "secret") {
			score += 35
			break
		}
	}
	if staticURL.MatchString(a) && !strings.Contains(s, "url") && !strings.Contains(s, "http") && !strings.Contains(s, "network") && !strings.Contains(s, "fetch") {
		score += 25
	}
	if len(args) > 4096 {
		score += 10
	}
	if score > 100 {
		score = 100
	}
	return score, nil
}
