package pipeline

import (
	"fmt"
	"strings"
)

// Prompts sent to the generation provider. Every prompt demands bare
// JSON so stage parsers stay strict; anything else is treated as
// malformed provider output.

const analysisPromptHeader = `You are a study assistant analyzing uploaded course material.
Read the material below and respond with a single JSON object, no prose,
no code fences, with exactly these fields:
  "category": one short subject label (e.g. "Biology", "Linear Algebra")
  "topics": an array of 3-8 short topic strings covered by the material
  "summary": a 2-4 sentence summary

Material:
`

// AnalysisPrompt builds the content_analysis prompt for the extracted text.
func AnalysisPrompt(text string) string {
	return analysisPromptHeader + text
}

const embeddingPromptHeader = `Return the embedding vector for the following text as a single JSON
array of numbers, no prose, no code fences.

Text:
`

// EmbeddingPrompt builds the per-chunk embedding_generation prompt.
func EmbeddingPrompt(chunk string) string {
	return embeddingPromptHeader + chunk
}

const questionPromptTemplate = `You are a study assistant writing practice questions.
From the material below, write %d multiple-choice questions. Respond with
a single JSON array, no prose, no code fences. Each element must have:
  "text": the question
  "options": exactly 4 answer options
  "correctIndex": index of the correct option, 0-3
  "explanation": why the correct option is right

Material:
`

// QuestionPrompt builds the question_generation prompt for one chunk.
func QuestionPrompt(chunk string, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, questionPromptTemplate, count)
	b.WriteString(chunk)
	return b.String()
}
