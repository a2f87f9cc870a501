package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/halcyonlabs/deepresearch/internal/metrics"
)

// CountPolicy controls how many sub-questions decomposition produces. Auto
// lets the reasoning model pick a count within the configured range; otherwise
// exactly Count questions are requested.
type CountPolicy struct {
	Auto  bool
	Count int
}

// Request describes one research run. Immutable for the run's lifetime.
type Request struct {
	Query          string
	AnsweringModel string
	ReasoningModel string
	Count          CountPolicy
	// Stream selects incremental answer retrieval (answer_chunk events
	// followed by answer_details) instead of single-shot answer events.
	Stream bool
}

// Answer is the result of answering one sub-question.
type Answer struct {
	Content string
	Links   []string
	Tokens  int
}

// Validation is the gap-check decision over the research so far.
type Validation struct {
	NeedsMore           bool
	AdditionalQuestions []string
}

// ReasoningService decomposes queries, validates coverage, and synthesizes
// summaries. The int return is the call's token cost.
type ReasoningService interface {
	Decompose(ctx context.Context, model, query string, policy CountPolicy) ([]string, int, error)
	Validate(ctx context.Context, model, query, findings string) (Validation, int, error)
	Summarize(ctx context.Context, model, query, findings string) (string, int, error)
}

// AnsweringService answers a single sub-question against the web-search
// upstream, either in one shot or incrementally via the chunk callback.
type AnsweringService interface {
	Answer(ctx context.Context, model, prompt string) (Answer, error)
	AnswerStream(ctx context.Context, model, prompt string, onChunk func(chunk string)) (Answer, error)
}

// phase is one completed decompose/answer cycle. Filled strictly in question
// order and appended to the run only once every question is answered.
type phase struct {
	index     int
	questions []string
	answers   []string
	links     [][]string
	tokens    []int
}

// Engine drives the bounded research loop and produces the protocol event
// stream. One Engine may serve many concurrent runs; all per-run state lives
// on the stack of run.
type Engine struct {
	reasoning ReasoningService
	answering AnsweringService
	maxPhases int
	logger    *zap.Logger
}

// NewEngine creates a research engine. maxPhases bounds the loop; values
// below 1 are clamped.
func NewEngine(reasoning ReasoningService, answering AnsweringService, maxPhases int, logger *zap.Logger) *Engine {
	if maxPhases < 1 {
		maxPhases = 1
	}
	return &Engine{
		reasoning: reasoning,
		answering: answering,
		maxPhases: maxPhases,
		logger:    logger,
	}
}

// Run starts a research run and returns its ordered event stream. The channel
// is closed after the terminal event (summary or error); the transport layer
// appends the [DONE] sentinel. Cancel ctx to stop the run at the next safe
// step boundary.
func (e *Engine) Run(ctx context.Context, req Request) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		e.run(ctx, req, ch)
	}()
	return ch
}

func (e *Engine) run(ctx context.Context, req Request, ch chan<- Event) {
	runID := uuid.New().String()
	logger := e.logger.With(zap.String("run_id", runID))
	rec := metrics.NewRunRecorder()
	acct := NewAccountant()

	var phases []phase
	workingQuery := req.Query

	emit := func(ev Event) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		kind := ClassifyError(err)
		logger.Error("Research run failed",
			zap.String("error_type", kind),
			zap.Int("phases_completed", len(phases)),
			zap.Error(err))
		emit(ErrorEvent(err.Error(), kind))
		rec.RecordFailed(len(phases), acct.Total())
	}

	logger.Info("Research run starting",
		zap.String("answering_model", req.AnsweringModel),
		zap.String("reasoning_model", req.ReasoningModel),
		zap.Bool("auto_question_count", req.Count.Auto),
		zap.Bool("stream_answers", req.Stream))

	for phaseIdx := 0; phaseIdx < e.maxPhases; phaseIdx++ {
		if ctx.Err() != nil {
			return
		}
		if phaseIdx > 0 {
			if !emit(NewPhaseEvent(phaseIdx)) {
				return
			}
		}

		questions, tokens, err := e.reasoning.Decompose(ctx, req.ReasoningModel, workingQuery, req.Count)
		acct.Add(phaseIdx, tokens)
		metrics.RecordStage("decompose", tokens)
		if err != nil {
			fail(err)
			return
		}
		if len(questions) == 0 {
			// Hard error for the run, not retried.
			logger.Error("Decomposition produced no questions", zap.Int("phase", phaseIdx))
			emit(ErrorEvent("failed to generate research questions", ErrorKindDecomposition))
			rec.RecordFailed(len(phases), acct.Total())
			return
		}
		metrics.QuestionsPerPhase.Observe(float64(len(questions)))
		if !emit(StepsEvent(phaseIdx, questions)) {
			return
		}

		ph := phase{index: phaseIdx, questions: questions}
		for i, question := range questions {
			step := i + 1
			if !emit(ProcessingEvent(phaseIdx, step, question)) {
				return
			}

			prompt := answerPrompt(workingQuery, ph.questions[:i], ph.answers, question)
			var ans Answer
			if req.Stream {
				ans, err = e.answering.AnswerStream(ctx, req.AnsweringModel, prompt, func(chunk string) {
					emit(AnswerChunkEvent(phaseIdx, step, chunk))
				})
			} else {
				ans, err = e.answering.Answer(ctx, req.AnsweringModel, prompt)
			}
			if err != nil {
				// Aborts the run; events for prior questions remain valid history.
				fail(err)
				return
			}

			acct.Add(phaseIdx, ans.Tokens)
			metrics.RecordStage("answer", ans.Tokens)
			ph.answers = append(ph.answers, ans.Content)
			ph.links = append(ph.links, ans.Links)
			ph.tokens = append(ph.tokens, ans.Tokens)

			if req.Stream {
				if !emit(AnswerDetailsEvent(phaseIdx, step, ans.Links, ans.Tokens)) {
					return
				}
			} else {
				if !emit(AnswerEvent(phaseIdx, step, ans.Content, ans.Links, ans.Tokens)) {
					return
				}
			}
		}
		phases = append(phases, ph)

		// Validation is skipped on the final allowed phase.
		if phaseIdx >= e.maxPhases-1 {
			break
		}

		findings := renderFindings(phases, false)
		verdict, tokens, err := e.reasoning.Validate(ctx, req.ReasoningModel, req.Query, findings)
		acct.Add(phaseIdx, tokens)
		metrics.RecordStage("validate", tokens)
		if err != nil {
			fail(err)
			return
		}
		if !emit(ValidationEvent(phaseIdx, verdict.NeedsMore)) {
			return
		}
		if !verdict.NeedsMore || len(verdict.AdditionalQuestions) == 0 {
			break
		}
		workingQuery = compositeQuery(req.Query, findings, verdict.AdditionalQuestions)
	}

	if ctx.Err() != nil {
		return
	}

	lastPhase := len(phases) - 1
	summary, tokens, err := e.reasoning.Summarize(ctx, req.ReasoningModel, req.Query, renderFindings(phases, true))
	acct.Add(lastPhase, tokens)
	metrics.RecordStage("summarize", tokens)
	if err != nil {
		fail(err)
		return
	}

	if !emit(TokenUsageEvent(acct.Total(), acct.PerPhase())) {
		return
	}
	if !emit(SummaryEvent(summary)) {
		return
	}

	rec.RecordCompleted(len(phases), acct.Total())
	logger.Info("Research run completed",
		zap.Int("phases", len(phases)),
		zap.Int("total_tokens", acct.Total()))
}

// answerPrompt asks the answering service to address one sub-question with
// the phase's earlier findings as context.
func answerPrompt(query string, priorQuestions, priorAnswers []string, question string) string {
	var sb strings.Builder
	sb.WriteString("You are a research assistant. Your task is to answer the user's query based on the research findings.\n")
	sb.WriteString("Original question: ")
	sb.WriteString(query)
	sb.WriteString("\n\nPrevious research findings with answers:\n")
	for i, q := range priorQuestions {
		sb.WriteString(q)
		sb.WriteString("\nAnswer: ")
		sb.WriteString(priorAnswers[i])
		sb.WriteString("\n")
	}
	sb.WriteString("\nCurrent research finding, reply to this question:\n")
	sb.WriteString(question)
	return sb.String()
}

// renderFindings concatenates every phase's question/answer pairs, optionally
// with each answer's references for the summarization call.
func renderFindings(phases []phase, withReferences bool) string {
	var sb strings.Builder
	for _, ph := range phases {
		for i, q := range ph.questions {
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			fmt.Fprintf(&sb, "Phase %d, Question %d: %s\nAnswer: %s", ph.index+1, i+1, q, ph.answers[i])
			if withReferences {
				fmt.Fprintf(&sb, "\nReferences: %s", strings.Join(ph.links[i], ", "))
			}
		}
	}
	return sb.String()
}

// compositeQuery builds the working query for a follow-up phase from the
// original query, the findings so far, and the validator's gap questions.
func compositeQuery(original, findings string, gaps []string) string {
	var sb strings.Builder
	sb.WriteString("Original question: ")
	sb.WriteString(original)
	sb.WriteString("\n\nResearch already conducted:\n")
	sb.WriteString(findings)
	sb.WriteString("\n\nPlease generate additional research questions to fill the following gaps:\n")
	sb.WriteString(strings.Join(gaps, "\n"))
	return sb.String()
}
