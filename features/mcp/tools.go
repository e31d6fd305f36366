package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"pdfsearch/internal/retrieval"
)

const (
	ToolSearchPDFs    = "search_pdfs"
	ToolAskPDF        = "ask_pdf"
	ToolListDocuments = "list_documents"
)

// argError rejects tool arguments; it becomes a JSON-RPC invalid params
// error rather than a tool result.
type argError string

func (e argError) Error() string { return string(e) }

type toolFunc func(ctx context.Context, args json.RawMessage) (string, error)

type registeredTool struct {
	Tool
	run toolFunc
}

func stringProp(desc string) map[string]string {
	return map[string]string{"type": "string", "description": desc}
}

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func (h *Handler) registerTools() {
	h.tools = []registeredTool{
		{
			Tool: Tool{
				Name: ToolSearchPDFs,
				Description: `Semantic search across every uploaded PDF. Returns at most one match per file, best first, with a short snippet of the matching passage.

USAGE EXAMPLE:
search_pdfs(query="termination clause notice period")`,
				InputSchema: objectSchema(map[string]interface{}{
					"query": stringProp("The search query"),
				}, "query"),
			},
			run: h.searchPDFs,
		},
		{
			Tool: Tool{
				Name: ToolAskPDF,
				Description: `Answers a question using only the content of one uploaded PDF. Use list_documents first if the file name is unknown.

USAGE EXAMPLE:
ask_pdf(file_name="contract.pdf", query="When does the agreement expire?")`,
				InputSchema: objectSchema(map[string]interface{}{
					"file_name": stringProp("Name of the uploaded PDF"),
					"query":     stringProp("The question to answer"),
				}, "file_name", "query"),
			},
			run: h.askPDF,
		},
		{
			Tool: Tool{
				Name: ToolListDocuments,
				Description: `Lists uploaded PDFs with their indexing status.

USAGE EXAMPLE:
list_documents()`,
				InputSchema: objectSchema(map[string]interface{}{}),
			},
			run: h.listDocuments,
		},
	}
}

func (h *Handler) catalog() []Tool {
	out := make([]Tool, len(h.tools))
	for i, t := range h.tools {
		out[i] = t.Tool
	}
	return out
}

func (h *Handler) lookup(name string) (toolFunc, bool) {
	for _, t := range h.tools {
		if t.Name == name {
			return t.run, true
		}
	}
	return nil, false
}

func decodeArgs(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return argError("Invalid arguments")
	}
	return nil
}

func (h *Handler) searchPDFs(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if strings.TrimSpace(args.Query) == "" {
		return "", argError("Query is required")
	}

	results, err := h.backend.Search(ctx, args.Query)
	if err != nil {
		return "", err
	}
	return formatMatches(results), nil
}

func (h *Handler) askPDF(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		FileName string `json:"file_name"`
		Query    string `json:"query"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	switch {
	case strings.TrimSpace(args.FileName) == "":
		return "", argError("file_name is required")
	case strings.TrimSpace(args.Query) == "":
		return "", argError("Query is required")
	}
	return h.backend.Chat(ctx, args.FileName, args.Query)
}

func (h *Handler) listDocuments(ctx context.Context, _ json.RawMessage) (string, error) {
	docs, err := h.backend.List(ctx)
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "No documents uploaded.", nil
	}
	out, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode documents: %w", err)
	}
	return string(out), nil
}

func formatMatches(results []retrieval.SearchResult) string {
	if len(results) == 0 {
		return "No results found."
	}
	var b strings.Builder
	for i, res := range results {
		fmt.Fprintf(&b, "Result %d (Score: %.2f):\nFile: %s\n%s\n\n---\n", i+1, res.Score, res.FileName, res.Snippet)
	}
	b.WriteString("\nUse ask_pdf(file_name=\"...\", query=\"...\") to ask about a single file.\n")
	return b.String()
}
