package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type scriptedReasoning struct {
	decomposeFn func(query string, policy CountPolicy) ([]string, int, error)
	validateFn  func(query, findings string) (Validation, int, error)
	summarizeFn func(query, findings string) (string, int, error)
}

func (s *scriptedReasoning) Decompose(ctx context.Context, model, query string, policy CountPolicy) ([]string, int, error) {
	return s.decomposeFn(query, policy)
}

func (s *scriptedReasoning) Validate(ctx context.Context, model, query, findings string) (Validation, int, error) {
	return s.validateFn(query, findings)
}

func (s *scriptedReasoning) Summarize(ctx context.Context, model, query, findings string) (string, int, error) {
	return s.summarizeFn(query, findings)
}

type scriptedAnswering struct {
	answerFn func(prompt string) (Answer, error)
	streamFn func(prompt string, onChunk func(string)) (Answer, error)
}

func (s *scriptedAnswering) Answer(ctx context.Context, model, prompt string) (Answer, error) {
	return s.answerFn(prompt)
}

func (s *scriptedAnswering) AnswerStream(ctx context.Context, model, prompt string, onChunk func(string)) (Answer, error) {
	return s.streamFn(prompt, onChunk)
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("timed out waiting for event stream to close")
		}
	}
}

func eventTypes(events []Event) []string {
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func simpleReasoning(questions []string, needsMore bool, gaps []string) *scriptedReasoning {
	return &scriptedReasoning{
		decomposeFn: func(query string, policy CountPolicy) ([]string, int, error) {
			return questions, 10, nil
		},
		validateFn: func(query, findings string) (Validation, int, error) {
			return Validation{NeedsMore: needsMore, AdditionalQuestions: gaps}, 7, nil
		},
		summarizeFn: func(query, findings string) (string, int, error) {
			return "final summary", 9, nil
		},
	}
}

func echoAnswering(tokens int) *scriptedAnswering {
	return &scriptedAnswering{
		answerFn: func(prompt string) (Answer, error) {
			return Answer{Content: "answer", Links: []string{"https://example.com"}, Tokens: tokens}, nil
		},
	}
}

func TestSinglePhaseRun(t *testing.T) {
	questions := []string{"Q1", "Q2", "Q3"}
	engine := NewEngine(simpleReasoning(questions, false, nil), echoAnswering(5), 2, zap.NewNop())

	events := collect(t, engine.Run(context.Background(), Request{
		Query:          "Compare two approaches",
		AnsweringModel: "sonar-reasoning-pro",
		ReasoningModel: "o3-mini",
		Count:          CountPolicy{Count: 3},
	}))

	require.Equal(t, []string{
		"steps",
		"processing", "answer",
		"processing", "answer",
		"processing", "answer",
		"validation",
		"token_usage",
		"summary",
	}, eventTypes(events))

	steps := events[0]
	require.NotNil(t, steps.Phase)
	assert.Equal(t, 0, *steps.Phase)
	assert.Equal(t, 3, steps.Steps)
	assert.Equal(t, questions, steps.Questions)

	// Answer steps are the contiguous range 1..count in order.
	var answerSteps []int
	for _, ev := range events {
		if ev.Type == EventAnswer {
			answerSteps = append(answerSteps, ev.Step)
		}
	}
	assert.Equal(t, []int{1, 2, 3}, answerSteps)

	var validation Event
	for _, ev := range events {
		if ev.Type == EventValidation {
			validation = ev
		}
	}
	require.NotNil(t, validation.NeedsMoreQuestions)
	assert.False(t, *validation.NeedsMoreQuestions)

	// decompose 10 + 3 answers x 5 + validation 7 + summary 9
	usage := events[len(events)-2]
	assert.Equal(t, EventTokenUsage, usage.Type)
	assert.Equal(t, 41, usage.TotalTokens)
	assert.Equal(t, []int{41}, usage.PhaseTokens)

	assert.Equal(t, "final summary", events[len(events)-1].Content)
}

func TestEmptyDecompositionFailsRun(t *testing.T) {
	reasoning := simpleReasoning(nil, false, nil)
	engine := NewEngine(reasoning, echoAnswering(5), 2, zap.NewNop())

	events := collect(t, engine.Run(context.Background(), Request{Query: "q"}))

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Equal(t, ErrorKindDecomposition, events[0].ErrorType)
}

func TestAnsweringFailureAbortsRun(t *testing.T) {
	questions := []string{"Q1", "Q2", "Q3", "Q4"}
	calls := 0
	answering := &scriptedAnswering{
		answerFn: func(prompt string) (Answer, error) {
			calls++
			if calls == 2 {
				return Answer{}, &UpstreamError{Service: "answering", StatusCode: 502, Message: "bad gateway"}
			}
			return Answer{Content: "ok", Tokens: 5}, nil
		},
	}
	engine := NewEngine(simpleReasoning(questions, false, nil), answering, 2, zap.NewNop())

	events := collect(t, engine.Run(context.Background(), Request{Query: "q"}))

	require.Equal(t, []string{
		"steps",
		"processing", "answer",
		"processing",
		"error",
	}, eventTypes(events))
	assert.Equal(t, ErrorKindUpstream, events[len(events)-1].ErrorType)
	assert.Equal(t, 2, calls, "questions 3-4 must not be attempted")
}

func TestPhaseCapRespected(t *testing.T) {
	// Validation always demands more; the cap must still hold.
	decomposeCalls := 0
	reasoning := &scriptedReasoning{
		decomposeFn: func(query string, policy CountPolicy) ([]string, int, error) {
			decomposeCalls++
			return []string{fmt.Sprintf("phase %d question", decomposeCalls)}, 4, nil
		},
		validateFn: func(query, findings string) (Validation, int, error) {
			return Validation{NeedsMore: true, AdditionalQuestions: []string{"more"}}, 3, nil
		},
		summarizeFn: func(query, findings string) (string, int, error) {
			return "done", 2, nil
		},
	}
	engine := NewEngine(reasoning, echoAnswering(1), 3, zap.NewNop())

	events := collect(t, engine.Run(context.Background(), Request{Query: "q", Count: CountPolicy{Auto: true}}))

	counts := map[string]int{}
	for _, ev := range events {
		counts[ev.Type]++
	}
	assert.Equal(t, 3, counts[EventSteps], "exactly MaxPhases phases")
	assert.Equal(t, 2, counts[EventNewPhase], "new_phase for every phase after the first")
	assert.Equal(t, 2, counts[EventValidation], "validation skipped on the last phase")
	assert.Equal(t, 1, counts[EventSummary])
	assert.Equal(t, 3, decomposeCalls)

	usage := Event{}
	for _, ev := range events {
		if ev.Type == EventTokenUsage {
			usage = ev
		}
	}
	// per phase: p0 = 4+1+3, p1 = 4+1+3, p2 = 4+1+2 (summary lands on last phase)
	assert.Equal(t, []int{8, 8, 7}, usage.PhaseTokens)
	assert.Equal(t, 23, usage.TotalTokens)
}

func TestValidationWithoutGapQuestionsStops(t *testing.T) {
	// needsMore without any follow-up questions cannot seed a new phase.
	engine := NewEngine(simpleReasoning([]string{"Q1"}, true, nil), echoAnswering(1), 3, zap.NewNop())

	events := collect(t, engine.Run(context.Background(), Request{Query: "q"}))

	counts := map[string]int{}
	for _, ev := range events {
		counts[ev.Type]++
	}
	assert.Equal(t, 1, counts[EventSteps])
	assert.Equal(t, 0, counts[EventNewPhase])
	assert.Equal(t, 1, counts[EventSummary])
}

func TestStreamedAnswers(t *testing.T) {
	answering := &scriptedAnswering{
		streamFn: func(prompt string, onChunk func(string)) (Answer, error) {
			onChunk("part one ")
			onChunk("part two")
			return Answer{Content: "part one part two", Links: []string{"https://a", "https://b"}, Tokens: 11}, nil
		},
	}
	engine := NewEngine(simpleReasoning([]string{"Q1"}, false, nil), answering, 2, zap.NewNop())

	events := collect(t, engine.Run(context.Background(), Request{Query: "q", Stream: true}))

	require.Equal(t, []string{
		"steps",
		"processing",
		"answer_chunk", "answer_chunk",
		"answer_details",
		"validation",
		"token_usage",
		"summary",
	}, eventTypes(events))

	assert.Equal(t, "part one ", events[2].Chunk)
	assert.Equal(t, 1, events[2].Step)
	details := events[4]
	assert.Equal(t, []string{"https://a", "https://b"}, details.Links)
	assert.Equal(t, 11, details.Tokens)
}

func TestWorkingQueryCarriesGaps(t *testing.T) {
	var queries []string
	reasoning := &scriptedReasoning{
		decomposeFn: func(query string, policy CountPolicy) ([]string, int, error) {
			queries = append(queries, query)
			return []string{"Q"}, 1, nil
		},
		validateFn: func(query, findings string) (Validation, int, error) {
			return Validation{NeedsMore: true, AdditionalQuestions: []string{"What about X?"}}, 1, nil
		},
		summarizeFn: func(query, findings string) (string, int, error) {
			return "s", 1, nil
		},
	}
	engine := NewEngine(reasoning, echoAnswering(1), 2, zap.NewNop())

	collect(t, engine.Run(context.Background(), Request{Query: "original question"}))

	require.Len(t, queries, 2)
	assert.Equal(t, "original question", queries[0])
	assert.Contains(t, queries[1], "original question")
	assert.Contains(t, queries[1], "What about X?")
	assert.Contains(t, queries[1], "Research already conducted")
}

func TestAnswerPromptIncludesPriorFindings(t *testing.T) {
	var prompts []string
	answering := &scriptedAnswering{
		answerFn: func(prompt string) (Answer, error) {
			prompts = append(prompts, prompt)
			return Answer{Content: fmt.Sprintf("answer %d", len(prompts)), Tokens: 1}, nil
		},
	}
	engine := NewEngine(simpleReasoning([]string{"first?", "second?"}, false, nil), answering, 2, zap.NewNop())

	collect(t, engine.Run(context.Background(), Request{Query: "q"}))

	require.Len(t, prompts, 2)
	assert.NotContains(t, prompts[0], "first?\nAnswer:")
	assert.Contains(t, prompts[1], "first?")
	assert.Contains(t, prompts[1], "Answer: answer 1")
	assert.True(t, strings.Contains(prompts[1], "second?"))
}

func TestCancelledContextStopsBeforeWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	decomposed := false
	reasoning := &scriptedReasoning{
		decomposeFn: func(query string, policy CountPolicy) ([]string, int, error) {
			decomposed = true
			return []string{"Q"}, 1, nil
		},
	}
	engine := NewEngine(reasoning, echoAnswering(1), 2, zap.NewNop())

	events := collect(t, engine.Run(ctx, Request{Query: "q"}))

	assert.Empty(t, events)
	assert.False(t, decomposed, "no upstream calls after cancellation")
}

func TestAuthErrorClassified(t *testing.T) {
	reasoning := &scriptedReasoning{
		decomposeFn: func(query string, policy CountPolicy) ([]string, int, error) {
			return nil, 0, fmt.Errorf("reasoning service: %w", ErrMissingCredential)
		},
	}
	engine := NewEngine(reasoning, echoAnswering(1), 2, zap.NewNop())

	events := collect(t, engine.Run(context.Background(), Request{Query: "q"}))

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Equal(t, ErrorKindAuth, events[0].ErrorType)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"upstream", &UpstreamError{Service: "answering", StatusCode: 500}, ErrorKindUpstream},
		{"wrapped upstream", fmt.Errorf("call: %w", &UpstreamError{StatusCode: 429}), ErrorKindUpstream},
		{"auth", fmt.Errorf("x: %w", ErrMissingCredential), ErrorKindAuth},
		{"canceled", context.Canceled, ErrorKindInternal},
		{"other", errors.New("boom"), ErrorKindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}
