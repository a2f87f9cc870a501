// Package research implements the phased deep-research orchestration engine
// and its streaming event protocol.
package research

import "encoding/json"

// Protocol event types. The wire discriminator for each event record.
const (
	EventNewPhase      = "new_phase"
	EventSteps         = "steps"
	EventProcessing    = "processing"
	EventAnswer        = "answer"
	EventAnswerChunk   = "answer_chunk"
	EventAnswerDetails = "answer_details"
	EventValidation    = "validation"
	EventTokenUsage    = "token_usage"
	EventSummary       = "summary"
	EventError         = "error"
)

// Event is one record of the research protocol stream. Only the fields
// relevant to the event's type are populated; Phase and NeedsMoreQuestions
// are pointers so that phase 0 and false survive serialization.
type Event struct {
	Type               string   `json:"type"`
	Phase              *int     `json:"phase,omitempty"`
	Title              string   `json:"title,omitempty"`
	Steps              int      `json:"steps,omitempty"`
	Questions          []string `json:"questions,omitempty"`
	Step               int      `json:"step,omitempty"`
	Question           string   `json:"question,omitempty"`
	Answer             string   `json:"answer,omitempty"`
	Chunk              string   `json:"chunk,omitempty"`
	Links              []string `json:"links,omitempty"`
	Tokens             int      `json:"tokens,omitempty"`
	NeedsMoreQuestions *bool    `json:"needsMoreQuestions,omitempty"`
	TotalTokens        int      `json:"totalTokens,omitempty"`
	PhaseTokens        []int    `json:"phaseTokens,omitempty"`
	Content            string   `json:"content,omitempty"`
	Message            string   `json:"message,omitempty"`
	ErrorType          string   `json:"errorType,omitempty"`
}

// Marshal returns the JSON payload for SSE frames and logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

func phasePtr(p int) *int { return &p }

func phaseTitle(phase int) string {
	if phase == 0 {
		return "Initial Research"
	}
	return "Additional Research"
}

// NewPhaseEvent announces the start of a follow-up research phase.
func NewPhaseEvent(phase int) Event {
	return Event{Type: EventNewPhase, Phase: phasePtr(phase), Title: phaseTitle(phase)}
}

// StepsEvent reports the decomposed question count and the full list.
func StepsEvent(phase int, questions []string) Event {
	return Event{
		Type:      EventSteps,
		Phase:     phasePtr(phase),
		Steps:     len(questions),
		Questions: questions,
	}
}

// ProcessingEvent names the question about to be answered. Steps are 1-based.
func ProcessingEvent(phase, step int, question string) Event {
	return Event{Type: EventProcessing, Phase: phasePtr(phase), Step: step, Question: question}
}

// AnswerEvent carries a complete single-shot answer.
func AnswerEvent(phase, step int, answer string, links []string, tokens int) Event {
	return Event{
		Type:   EventAnswer,
		Phase:  phasePtr(phase),
		Step:   step,
		Answer: answer,
		Links:  links,
		Tokens: tokens,
	}
}

// AnswerChunkEvent carries one incremental answer fragment.
func AnswerChunkEvent(phase, step int, chunk string) Event {
	return Event{Type: EventAnswerChunk, Phase: phasePtr(phase), Step: step, Chunk: chunk}
}

// AnswerDetailsEvent carries the trailing citations and token cost of a
// streamed answer.
func AnswerDetailsEvent(phase, step int, links []string, tokens int) Event {
	return Event{
		Type:   EventAnswerDetails,
		Phase:  phasePtr(phase),
		Step:   step,
		Links:  links,
		Tokens: tokens,
	}
}

// ValidationEvent reports the gap-check decision for a phase.
func ValidationEvent(phase int, needsMore bool) Event {
	return Event{Type: EventValidation, Phase: phasePtr(phase), NeedsMoreQuestions: &needsMore}
}

// TokenUsageEvent reports the run's aggregate token cost with per-phase
// subtotals.
func TokenUsageEvent(total int, perPhase []int) Event {
	return Event{Type: EventTokenUsage, TotalTokens: total, PhaseTokens: perPhase}
}

// SummaryEvent carries the final synthesized answer.
func SummaryEvent(content string) Event {
	return Event{Type: EventSummary, Content: content}
}

// ErrorEvent describes a fatal run failure. The stream still terminates with
// the sentinel after it.
func ErrorEvent(message, kind string) Event {
	return Event{Type: EventError, Message: message, ErrorType: kind}
}
