package models

const (
	ThinkTag         = `(?s)<think>.*?</think>`
	ContextSeparator = "\n\n"

	NoContextAnswer = "I couldn't find any relevant documentation for your question. " +
		"Try rephrasing or check if the repository has been indexed."
	NoContextWarning = "No relevant context found"
)

var (
	SystemPrompt = `You are a technical documentation assistant for GitHub repositories.

Your role is to answer questions about code and documentation using ONLY the provided context from GitHub files.

RULES:
1. Answer using ONLY the provided context
2. Cite sources using [file_path] format
3. If information is not in the context, say "Not found in documentation"
4. Include the last modified date for citations when available
5. Be concise but complete
6. Use the search_codebase tool when the context does not cover the question

RESPONSE FORMAT:
[Your answer here]

Sources:
- [file_path] (last updated: date)
- [file_path] (last updated: date)
`

	ContextBlockTemplate = `File: %s
Last modified: %s
Content:
%s`

	UserPromptTemplate = `CONTEXT FROM GITHUB:
%s

USER QUESTION:
%s

Please answer the question using the context above.`
)
