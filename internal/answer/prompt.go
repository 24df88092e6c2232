package answer

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/atelier-labs/corpusd/internal/domain"
)

const groundedInstruction = `You are a precise assistant answering questions about the user's personal document collection.
Answer using ONLY the numbered context passages below. Cite passages inline with bracketed numbers, e.g. [1] or [2].
If the context does not contain the answer, say so plainly instead of guessing.`

const broadInstruction = `You are a helpful assistant. Numbered context passages from the user's document collection are provided below.
Prefer them when relevant and cite passages inline with bracketed numbers, e.g. [1]. You may draw on general knowledge when the context does not cover the question.`

const emptyIndexRefusal = "I don't have any documents in my knowledge base yet, so I can't answer from your collection. Ingest some PDF or Markdown files first."

// Assistant turns in the history block are truncated so one verbose
// answer cannot crowd out the context passages.
const maxHistoryAnswerChars = 600

// buildPrompt assembles the full generation prompt: instruction,
// numbered context passages, prior conversation, then the question.
func buildPrompt(question string, chunks []domain.ScoredChunk, history []domain.ConversationTurn, grounded bool) string {
	var b strings.Builder

	if grounded {
		b.WriteString(groundedInstruction)
	} else {
		b.WriteString(broadInstruction)
	}
	b.WriteString("\n\n")

	if len(chunks) > 0 {
		b.WriteString("Context:\n\n")
		for i, sc := range chunks {
			fmt.Fprintf(&b, "[%d] From %s:\n%s\n\n", i+1, sc.Chunk.Label(), sc.Chunk.Text)
		}
	}

	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, turn := range history {
			content := turn.Content
			if turn.Role == domain.RoleAssistant && len(content) > maxHistoryAnswerChars {
				content = content[:maxHistoryAnswerChars] + "…"
			}
			switch turn.Role {
			case domain.RoleUser:
				fmt.Fprintf(&b, "User: %s\n", content)
			case domain.RoleAssistant:
				fmt.Fprintf(&b, "Assistant: %s\n", content)
			}
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Question: %s\nAnswer:", question)
	return b.String()
}

// estimateTokens counts prompt tokens with the cl100k_base encoding,
// falling back to a bytes/4 heuristic when the encoding is not
// available (e.g. no local cache and no network).
func estimateTokens(prompt string) int {
	enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
	if err != nil {
		return len(prompt) / 4
	}
	return len(enc.Encode(prompt, nil, nil))
}
