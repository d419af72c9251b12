package domain

import (
	"fmt"
	"strings"
	"time"
)

// RefusalText is returned verbatim whenever the evidence cannot support an answer.
const RefusalText = "В базе знаний нет подтвержденных данных для ответа на этот вопрос."

type AnswerMode string

const (
	AnswerModeBrief    AnswerMode = "brief"
	AnswerModeStandard AnswerMode = "standard"
	AnswerModeDeep     AnswerMode = "deep"
)

func ParseAnswerMode(raw string) (AnswerMode, error) {
	switch AnswerMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", AnswerModeStandard:
		return AnswerModeStandard, nil
	case AnswerModeBrief:
		return AnswerModeBrief, nil
	case AnswerModeDeep:
		return AnswerModeDeep, nil
	default:
		return "", WrapError(ErrInvalidInput, "parse answer mode", fmt.Errorf("unknown mode %q", raw))
	}
}

type QueryType string

const (
	QueryTypeSales     QueryType = "sales"
	QueryTypeTechnical QueryType = "technical"
)

func ParseQueryType(raw string) (QueryType, error) {
	switch QueryType(strings.ToLower(strings.TrimSpace(raw))) {
	case "", QueryTypeSales:
		return QueryTypeSales, nil
	case QueryTypeTechnical:
		return QueryTypeTechnical, nil
	default:
		return "", WrapError(ErrInvalidInput, "parse query type", fmt.Errorf("unknown query type %q", raw))
	}
}

type AskRequest struct {
	Question      string
	QueryType     QueryType
	Mode          AnswerMode
	Version       string
	DocumentNames []string
}

// Source is a citation derived from one retrieved hit.
type Source struct {
	DocumentName string  `json:"document_name"`
	PageNumber   *int    `json:"page_number,omitempty"`
	Section      *string `json:"section,omitempty"`
	Quote        string  `json:"quote"`
	Version      string  `json:"version"`
}

type QuestionProfile struct {
	Kind       string
	Complexity string
	Domain     QueryType
}

func (p QuestionProfile) String() string {
	return fmt.Sprintf("- Query kind: %s\n- Complexity: %s\n- Domain: %s", p.Kind, p.Complexity, p.Domain)
}

type GenerationRequest struct {
	Question  string
	QueryType QueryType
	Context   string
	Profile   string
	Mode      AnswerMode
}

type GenerationResult struct {
	Answer       string
	InputTokens  int
	OutputTokens int
}

type GenerationOutcome int

const (
	GenerationAnswered GenerationOutcome = iota + 1
	GenerationRefused
	GenerationFailed
)

func (o GenerationOutcome) String() string {
	switch o {
	case GenerationAnswered:
		return "answered"
	case GenerationRefused:
		return "refused"
	case GenerationFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Generation is the tagged result of one generation step. Failure is set only
// for GenerationFailed; Result only for GenerationAnswered.
type Generation struct {
	Outcome GenerationOutcome
	Result  GenerationResult
	Failure error
}

func Answered(result GenerationResult) Generation {
	return Generation{Outcome: GenerationAnswered, Result: result}
}

func Refused() Generation {
	return Generation{Outcome: GenerationRefused}
}

func Failed(err error) Generation {
	return Generation{Outcome: GenerationFailed, Failure: err}
}

type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type AnswerResponse struct {
	Answer           string     `json:"answer"`
	Sources          []Source   `json:"sources"`
	Confidence       float64    `json:"confidence"`
	UsedDocuments    []string   `json:"used_documents"`
	Timestamp        time.Time  `json:"timestamp"`
	ProcessingTimeMS int64      `json:"processing_time_ms"`
	TokenUsage       TokenUsage `json:"token_usage"`
}

func (r *AnswerResponse) IsRefusal() bool {
	return r != nil && r.Answer == RefusalText && len(r.Sources) == 0
}
