// Package prompting builds the strict evidence-only prompts shared by all
// generation backends.
package prompting

import (
	"fmt"
	"strings"

	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
)

var systemPrompt = fmt.Sprintf(`You are a corporate AI assistant for sales and technical teams.

Hard constraints:
1. Answer ONLY from provided context chunks.
2. If the context does not contain confirmed data to answer, return EXACTLY:
   "%s"
3. Do not invent any facts, numbers, features, plans, or assumptions.
4. Do not add a "Sources" section yourself (the backend appends citations).
5. Keep the language consistent with the user's question.`, domain.RefusalText)

func SystemPrompt() string {
	return systemPrompt
}

func UserPrompt(req domain.GenerationRequest) string {
	return strings.TrimSpace(fmt.Sprintf(`Query type: %s
Response mode: %s

Mode guidance:
%s

Question profile:
%s

Question:
%s

Context:
%s`, req.QueryType, req.Mode, modeGuidance(req.Mode), req.Profile, req.Question, req.Context))
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Messages returns the system and user chat messages for req.
func Messages(req domain.GenerationRequest) []Message {
	return []Message{
		{Role: "system", Content: SystemPrompt()},
		{Role: "user", Content: UserPrompt(req)},
	}
}

func modeGuidance(mode domain.AnswerMode) string {
	switch mode {
	case domain.AnswerModeBrief:
		return "- Keep answer concise: 3-6 short sentences.\n" +
			"- Focus on direct conclusion and one key evidence point."
	case domain.AnswerModeDeep:
		return "- Provide layered explanation: conclusion, mechanism, practical implications.\n" +
			"- Add clear bullets and include edge cases from context when available."
	default:
		return "- Provide balanced answer with short structure: conclusion + explanation + practice.\n" +
			"- Avoid unnecessary verbosity."
	}
}

// IsMemoryExhaustion reports whether a runtime error message describes a
// model that cannot be loaded or run for lack of memory.
func IsMemoryExhaustion(message string) bool {
	msg := strings.ToLower(message)
	for _, marker := range []string{"out of memory", "insufficient memory", "not enough memory", "requires more system memory", "cannot allocate memory"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
