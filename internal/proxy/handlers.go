package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/lewisedginton/recall-proxy/internal/context_builder"
	"github.com/lewisedginton/recall-proxy/internal/memory_store"
	"github.com/lewisedginton/recall-proxy/pkg/logger"
)

// handleChat intercepts POST /api/chat, splices memory into the message list
// and relays the backend response, accumulating assistant output for storage.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	body, ok := h.decodeBody(raw, "/api/chat")
	if !ok {
		// Undecodable body goes to the backend untouched, no augmentation.
		h.relayRaw(w, r, "/api/chat", raw)
		return
	}

	messages := asMessageList(body["messages"])
	stream := boolValue(body, "stream", true)
	model := stringValue(body, "model", "unknown")
	userText := extractLastUserMessage(messages)

	hits := h.searchMemory(r.Context(), userText, "/api/chat")
	block := context_builder.BuildMemoryBlock(hits, h.store.Count(), context_builder.Options{
		MaxItems: h.contextCfg.MaxItems,
		MaxChars: h.contextCfg.MaxChars,
	})
	if block != "" {
		body["messages"] = context_builder.InjectIntoMessages(messages, block)
		if h.metrics != nil {
			h.metrics.ContextInjectionsCounter.Inc()
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "failed to encode request body", http.StatusInternalServerError)
		return
	}

	h.relay(w, r, "/api/chat", payload, stream, chatFragment, userText, model)
}

// handleGenerate intercepts POST /api/generate, splicing memory into the
// system prompt instead of a message list.
func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	body, ok := h.decodeBody(raw, "/api/generate")
	if !ok {
		h.relayRaw(w, r, "/api/generate", raw)
		return
	}

	prompt := stringValue(body, "prompt", "")
	system := stringValue(body, "system", "")
	stream := boolValue(body, "stream", true)
	model := stringValue(body, "model", "unknown")

	hits := h.searchMemory(r.Context(), prompt, "/api/generate")
	block := context_builder.BuildMemoryBlock(hits, h.store.Count(), context_builder.Options{
		MaxItems: h.contextCfg.MaxItems,
		MaxChars: h.contextCfg.MaxChars,
	})
	if block != "" {
		body["system"] = context_builder.InjectIntoSystem(system, block)
		if h.metrics != nil {
			h.metrics.ContextInjectionsCounter.Inc()
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "failed to encode request body", http.StatusInternalServerError)
		return
	}

	h.relay(w, r, "/api/generate", payload, stream, generateFragment, prompt, model)
}

// decodeBody parses a request body permissively: strict JSON first, then a
// UTF-8-replace retry for clients that send broken encodings. Returns ok=false
// when the body cannot be parsed at all.
func (h *Handler) decodeBody(raw []byte, endpoint string) (map[string]any, bool) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err == nil {
		return body, true
	}

	h.log.Warn("JSON parse failed, retrying with UTF-8 replacement",
		logger.StringField("endpoint", endpoint))
	repaired := strings.ToValidUTF8(string(raw), "�")
	if err := json.Unmarshal([]byte(repaired), &body); err == nil {
		return body, true
	}

	h.log.Error("Cannot parse request body, forwarding raw to backend",
		logger.StringField("endpoint", endpoint))
	return nil, false
}

// searchMemory embeds the query text and searches the store. All failures are
// logged and swallowed: memory is best effort, the relay must never fail
// because of it.
func (h *Handler) searchMemory(ctx context.Context, query, endpoint string) []memory_store.SearchHit {
	if query == "" || h.store.Count() == 0 {
		return nil
	}

	vector, err := h.embedder.Embed(ctx, query)
	if err != nil {
		h.log.Error("Query embedding failed", logger.StringField("endpoint", endpoint),
			logger.ErrorField(err))
		return nil
	}

	hits, err := h.store.Search(vector, h.search.TopK, h.search.SimilarityThreshold)
	if err != nil {
		h.log.Error("Memory search failed", logger.StringField("endpoint", endpoint),
			logger.ErrorField(err))
		return nil
	}

	if len(hits) > 0 {
		h.log.Info("Memory hits found",
			logger.StringField("endpoint", endpoint),
			logger.IntField("hits", len(hits)),
			logger.Float64Field("best_similarity", hits[0].Similarity))
	}
	return hits
}

// chatFragment pulls the assistant fragment from a /api/chat response chunk.
func chatFragment(chunk map[string]any) string {
	message, _ := chunk["message"].(map[string]any)
	content, _ := message["content"].(string)
	return content
}

// generateFragment pulls the fragment from a /api/generate response chunk.
func generateFragment(chunk map[string]any) string {
	content, _ := chunk["response"].(string)
	return content
}

// extractLastUserMessage returns the trimmed text of the most recent user
// message. Multi-part content contributes its text parts joined by spaces.
func extractLastUserMessage(messages []map[string]any) string {
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if role, _ := msg["role"].(string); role != "user" {
			continue
		}

		switch content := msg["content"].(type) {
		case string:
			if text := strings.TrimSpace(content); text != "" {
				return text
			}
		case []any:
			var parts []string
			for _, part := range content {
				partMap, ok := part.(map[string]any)
				if !ok {
					continue
				}
				if text, ok := partMap["text"].(string); ok {
					parts = append(parts, text)
				}
			}
			if text := strings.TrimSpace(strings.Join(parts, " ")); text != "" {
				return text
			}
		}
	}
	return ""
}

func asMessageList(v any) []map[string]any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	messages := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			messages = append(messages, m)
		}
	}
	return messages
}

func stringValue(body map[string]any, key, fallback string) string {
	if s, ok := body[key].(string); ok {
		return s
	}
	return fallback
}

func boolValue(body map[string]any, key string, fallback bool) bool {
	if b, ok := body[key].(bool); ok {
		return b
	}
	return fallback
}
