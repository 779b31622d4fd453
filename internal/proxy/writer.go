package proxy

import (
	"context"
	"strings"
	"time"

	"github.com/lewisedginton/recall-proxy/pkg/logger"
)

const (
	// minUserTextLen and minAssistantTextLen keep greetings and token-sized
	// fragments out of the store.
	minUserTextLen      = 5
	minAssistantTextLen = 20

	backgroundWriteTimeout = 60 * time.Second
)

// refusalPhrases covers generic "I have no memory" replies. Storing them
// poisons later searches, so they are filtered out. The list includes the
// Romanian variants seen in the wild alongside the English ones.
var refusalPhrases = []string{
	"i don't have access",
	"i don't have persistent memory",
	"i don't have a persistent memory",
	"i cannot remember",
	"i can't remember previous",
	"i don't have any actual information",
	"nu am acces la",
	"nu am memorie",
	"nu pot accesa",
	"nu am informatii",
}

// IsRefusal is the default RefusalFilter.
func IsRefusal(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// scheduleWrite stores the exchange in the background. The client never waits
// on embedding or persistence; failures are logged and counted, nothing more.
func (h *Handler) scheduleWrite(userText, assistantText, model string) {
	h.writeWG.Add(1)
	go func() {
		defer h.writeWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), backgroundWriteTimeout)
		defer cancel()

		if len(userText) > minUserTextLen {
			h.storeText(ctx, userText, "user", model)
		}
		if len(assistantText) > minAssistantTextLen && !h.refusal(assistantText) {
			h.storeText(ctx, assistantText, "assistant", model)
		}

		// Save after every exchange so a crash loses at most one turn.
		if err := h.store.Save(ctx); err != nil {
			h.log.Error("Failed to save memory snapshot", logger.ErrorField(err))
			h.countWriteFailure()
		}

		if h.metrics != nil {
			h.metrics.MemoryRecordsGauge.Set(float64(h.store.Count()))
		}
	}()
}

func (h *Handler) storeText(ctx context.Context, text, role, model string) {
	vector, err := h.embedder.Embed(ctx, text)
	if err != nil {
		h.log.Error("Failed to embed text for storage",
			logger.StringField("role", role), logger.ErrorField(err))
		h.countWriteFailure()
		return
	}

	if _, err := h.store.Insert(vector, text, role, model); err != nil {
		h.log.Error("Failed to insert memory record",
			logger.StringField("role", role), logger.ErrorField(err))
		h.countWriteFailure()
		return
	}

	h.log.Debug("Stored memory record",
		logger.StringField("role", role),
		logger.IntField("chars", len(text)),
		logger.IntField("total", h.store.Count()))
}

func (h *Handler) countWriteFailure() {
	if h.metrics != nil {
		h.metrics.MemoryWriteFailures.Inc()
	}
}
