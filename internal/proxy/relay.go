package proxy

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/lewisedginton/recall-proxy/pkg/logger"
)

// maxLineSize bounds a single NDJSON line from the backend. Chunks carry one
// token fragment each, so this leaves plenty of headroom.
const maxLineSize = 1024 * 1024

// hopByHopHeaders must not travel between client and backend.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Proxy-Connection":    true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Host":                true,
}

// relay forwards an augmented request to the backend and streams or copies
// the response back. The assistant text accumulated from the response is
// handed to the background writer once the client has everything.
func (h *Handler) relay(w http.ResponseWriter, r *http.Request, path string, payload []byte,
	stream bool, fragment func(map[string]any) string, userText, model string) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost,
		h.backendTarget(path, ""), bytes.NewReader(payload))
	if err != nil {
		http.Error(w, "failed to build backend request", http.StatusInternalServerError)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		h.log.Error("Backend request failed", logger.StringField("path", path),
			logger.ErrorField(err))
		http.Error(w, "backend unreachable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close() //nolint:errcheck // response body close error is not actionable

	if stream {
		h.relayStream(w, resp, fragment, userText, model)
		return
	}
	h.relayBuffered(w, resp, fragment, userText, model)
}

// relayStream forwards NDJSON lines one at a time, flushing after each so the
// client sees tokens as the model produces them. Fragments are accumulated on
// the side; lines that fail to parse are still relayed verbatim.
func (h *Handler) relayStream(w http.ResponseWriter, resp *http.Response,
	fragment func(map[string]any) string, userText, model string) {
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/x-ndjson"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)

	var assistant strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		if _, err := w.Write(append(line, '\n')); err != nil {
			h.log.Warn("Client disconnected during stream relay", logger.ErrorField(err))
			break
		}
		if flusher != nil {
			flusher.Flush()
		}

		var chunk map[string]any
		if err := json.Unmarshal(line, &chunk); err == nil {
			assistant.WriteString(fragment(chunk))
		}
	}
	if err := scanner.Err(); err != nil {
		h.log.Error("Backend stream read failed", logger.ErrorField(err))
	}

	h.scheduleWrite(userText, assistant.String(), model)
}

// relayBuffered copies a non-streaming backend response verbatim.
func (h *Handler) relayBuffered(w http.ResponseWriter, resp *http.Response,
	fragment func(map[string]any) string, userText, model string) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.log.Error("Backend response read failed", logger.ErrorField(err))
		http.Error(w, "backend response read failed", http.StatusBadGateway)
		return
	}

	var assistant string
	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err == nil {
		assistant = fragment(parsed)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(data)

	h.scheduleWrite(userText, assistant, model)
}

// handlePassthrough forwards any non-intercepted request to the backend
// byte-for-byte, stripping only hop-by-hop headers.
func (h *Handler) handlePassthrough(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method,
		h.backendTarget(r.URL.Path, r.URL.RawQuery), bytes.NewReader(body))
	if err != nil {
		http.Error(w, "failed to build backend request", http.StatusInternalServerError)
		return
	}
	copyHeaders(req.Header, r.Header)

	h.forward(w, req)
}

// relayRaw forwards an unparseable intercepted body to its original endpoint
// without any augmentation.
func (h *Handler) relayRaw(w http.ResponseWriter, r *http.Request, path string, body []byte) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost,
		h.backendTarget(path, r.URL.RawQuery), bytes.NewReader(body))
	if err != nil {
		http.Error(w, "failed to build backend request", http.StatusInternalServerError)
		return
	}
	copyHeaders(req.Header, r.Header)

	h.forward(w, req)
}

// forward executes a backend request and streams the response back, flushing
// as chunks arrive so streaming endpoints stay streaming.
func (h *Handler) forward(w http.ResponseWriter, req *http.Request) {
	resp, err := h.client.Do(req)
	if err != nil {
		h.log.Error("Backend request failed",
			logger.StringField("path", req.URL.Path), logger.ErrorField(err))
		http.Error(w, "backend unreachable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close() //nolint:errcheck // response body close error is not actionable

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if hopByHopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}
