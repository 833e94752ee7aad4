package generation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/badgewise/pkg/domain/interfaces"
	"github.com/secmon-lab/badgewise/pkg/domain/model"
	"github.com/secmon-lab/badgewise/pkg/utils/logging"
	"github.com/secmon-lab/badgewise/pkg/utils/metrics"
	"github.com/sony/gobreaker/v2"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultMaxRetries     = 1
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
	defaultTripFailures   = 5
	defaultOpenTimeout    = 30 * time.Second
)

// Fallback reasons
const (
	ReasonCallFailed   = "call_failed"
	ReasonMalformed    = "malformed_output"
	ReasonCircuitOpen  = "circuit_open"
	ReasonCancelled    = "cancelled"
	ReasonNoCandidates = "no_candidates"
)

var errCallerGone = goerr.New("caller cancelled generation call")

// strictInstruction is appended to the user prompt after a malformed response
const strictInstruction = "\n\nIMPORTANT: Your previous answer could not be parsed. Respond with a single JSON object only, " +
	"no markdown and no prose. It must have a \"recommendations\" array whose items contain \"badge_id\" " +
	"(copied exactly from the candidate list), \"justification\", \"preparation_steps\" and \"expected_benefits\"."

// state of a generation request
type state int

const (
	stateRequested state = iota
	stateRetrying
	stateParsed
	stateFallenBack
)

func (s state) String() string {
	switch s {
	case stateRequested:
		return "requested"
	case stateRetrying:
		return "retrying"
	case stateParsed:
		return "parsed"
	case stateFallenBack:
		return "fallen_back"
	}
	return "unknown"
}

// Client produces recommendation results with a language model and degrades to the
// retrieval ordering whenever the model fails or misbehaves
type Client struct {
	llmClient      gollem.LLMClient
	timeout        time.Duration
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	tripFailures   uint32
	openTimeout    time.Duration
	now            func() time.Time
	breaker        *gobreaker.CircuitBreaker[string]
}

var _ interfaces.Generator = &Client{}

// Option is a functional option for Client configuration
type Option func(*Client)

// WithTimeout sets the hard timeout of a single model call
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithMaxRetries sets how many times a failed call is retried
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithBackoff sets the exponential backoff between retries
func WithBackoff(initial, maxBackoff time.Duration) Option {
	return func(c *Client) {
		c.initialBackoff = initial
		c.maxBackoff = maxBackoff
	}
}

// WithCircuitBreaker sets after how many consecutive failures calls are short-circuited and for how long
func WithCircuitBreaker(consecutiveFailures uint32, openTimeout time.Duration) Option {
	return func(c *Client) {
		c.tripFailures = consecutiveFailures
		c.openTimeout = openTimeout
	}
}

// WithClock replaces time.Now for result timestamps
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// New creates a new generation client
func New(llmClient gollem.LLMClient, opts ...Option) (*Client, error) {
	if llmClient == nil {
		return nil, goerr.New("LLM client is required")
	}

	c := &Client{
		llmClient:      llmClient,
		timeout:        defaultTimeout,
		maxRetries:     defaultMaxRetries,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		tripFailures:   defaultTripFailures,
		openTimeout:    defaultOpenTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "generation",
		MaxRequests: 1,
		Timeout:     c.openTimeout,
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errCallerGone)
		},
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return c.tripFailures > 0 && counts.ConsecutiveFailures >= c.tripFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Default().Warn("generation circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return c, nil
}

// Generate runs the request through the state machine
// Requested -> Parsed | Retrying | FallenBack. It never fails: every failure of the
// model ends in FallenBack, which orders the candidates by similarity.
func (c *Client) Generate(ctx context.Context, req *model.GenerationRequest) *model.RecommendationResult {
	logger := logging.From(ctx).With(
		model.FingerprintKey, req.Fingerprint,
		model.StageKey, "generation",
	)
	result := model.NewRecommendationResult(req.UserID, c.now())

	if len(req.Candidates) == 0 {
		result.Outcome = model.OutcomeFallback
		result.FallbackReason = ReasonNoCandidates
		metrics.GenerationOutcome(string(result.Outcome), result.FallbackReason)
		return result
	}

	var (
		st       = stateRequested
		strict   bool
		attempt  int
		failures int
		reason   string
		items    []model.RecommendationItem
	)

	for st != stateParsed && st != stateFallenBack {
		switch st {
		case stateRequested:
			attempt++
			text, err := c.call(ctx, req, strict)
			if err != nil {
				failures++
				metrics.GenerationAttempt("error")
				logger.Warn("generation call failed",
					model.AttemptKey, attempt,
					"failures", failures,
					"error", err,
				)

				switch {
				case ctx.Err() != nil:
					reason, st = ReasonCancelled, stateFallenBack
				case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
					reason, st = ReasonCircuitOpen, stateFallenBack
				case failures > c.maxRetries:
					reason, st = ReasonCallFailed, stateFallenBack
				default:
					st = stateRetrying
				}
				continue
			}

			parsed, err := parseResponse(text, req.Candidates, logger)
			if err != nil {
				metrics.GenerationAttempt("malformed")
				logger.Warn("malformed generation output",
					model.AttemptKey, attempt,
					"strict", strict,
					"error", err,
				)
				if strict {
					reason, st = ReasonMalformed, stateFallenBack
				} else {
					strict = true
				}
				continue
			}

			metrics.GenerationAttempt("ok")
			items, st = parsed, stateParsed

		case stateRetrying:
			delay := c.backoff(failures)
			logger.Debug("retrying generation", "delay", delay, model.AttemptKey, attempt)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				reason, st = ReasonCancelled, stateFallenBack
			case <-timer.C:
				st = stateRequested
			}
		}
	}

	if st == stateParsed {
		result.Outcome = model.OutcomeGenerated
		result.Items = truncate(items, req.MaxItems)
	} else {
		logger.Warn("falling back to retrieval ordering", "reason", reason, model.AttemptKey, attempt)
		result.Outcome = model.OutcomeFallback
		result.FallbackReason = reason
		result.Items = Fallback(req.Candidates, req.MaxItems)
	}

	metrics.GenerationOutcome(string(result.Outcome), result.FallbackReason)
	return result
}

func (c *Client) backoff(failures int) time.Duration {
	delay := c.initialBackoff
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= c.maxBackoff {
			return c.maxBackoff
		}
	}
	return min(delay, c.maxBackoff)
}

type callResult struct {
	text string
	err  error
}

// call performs one model exchange through the circuit breaker. The timeout is enforced
// even when the underlying session ignores context cancellation.
func (c *Client) call(ctx context.Context, req *model.GenerationRequest, strict bool) (string, error) {
	return c.breaker.Execute(func() (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		ch := make(chan callResult, 1)
		go func() {
			text, err := c.invoke(callCtx, req, strict)
			ch <- callResult{text: text, err: err}
		}()

		var res callResult
		select {
		case res = <-ch:
		case <-callCtx.Done():
			res.err = goerr.Wrap(callCtx.Err(), "generation call timed out", goerr.V("timeout", c.timeout))
		}

		// the caller leaving is not a failure of the model
		if res.err != nil && ctx.Err() != nil {
			return "", goerr.Wrap(errCallerGone, "caller gave up on generation call", goerr.V("cause", ctx.Err().Error()))
		}
		return res.text, res.err
	})
}

func (c *Client) invoke(ctx context.Context, req *model.GenerationRequest, strict bool) (string, error) {
	session, err := c.llmClient.NewSession(ctx,
		gollem.WithSessionContentType(gollem.ContentTypeJSON),
		gollem.WithSessionResponseSchema(responseSchema()),
		gollem.WithSessionSystemPrompt(req.SystemPrompt),
	)
	if err != nil {
		return "", goerr.Wrap(err, "failed to create LLM session")
	}

	prompt := req.UserPrompt
	if strict {
		prompt += strictInstruction
	}

	resp, err := session.GenerateContent(ctx, gollem.Text(prompt))
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate content from LLM")
	}
	if resp == nil {
		return "", nil
	}
	return strings.Join(resp.Texts, ""), nil
}

func truncate(items []model.RecommendationItem, maxItems int) []model.RecommendationItem {
	if maxItems > 0 && len(items) > maxItems {
		return items[:maxItems]
	}
	return items
}
