package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"inspectdesk.io/internal/notify"
)

// Stream delivers the session's notifications as Server-Sent Events. Notices
// already active are replayed first.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sid := sessionIDFrom(ctx)
	ch := a.notices.Subscribe(ctx)

	_, _ = w.Write([]byte(": stream started\n\n"))
	active := a.notices.Active(sid)
	replayed := make(replaySet, len(active))
	for _, n := range active {
		replayed[n.ID] = struct{}{}
		writeEvent(w, notify.Event{Type: notify.EventShown, Notice: n})
	}
	flusher.Flush()

	for event := range ch {
		if !event.Visible(sid) || replayed.duplicate(event) {
			continue
		}
		writeEvent(w, event)
		flusher.Flush()
	}
}

// replaySet holds notices sent during the replay. A notice shown after the
// subscription started but before the replay reached it is also queued on
// the live channel; its "shown" event is dropped there.
type replaySet map[string]struct{}

func (s replaySet) duplicate(event notify.Event) bool {
	if event.Type != notify.EventShown {
		return false
	}
	if _, ok := s[event.Notice.ID]; !ok {
		return false
	}
	delete(s, event.Notice.ID)
	return true
}

func writeEvent(w http.ResponseWriter, event notify.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("event: " + string(event.Type) + "\n"))
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(payload)
	_, _ = w.Write([]byte("\n\n"))
}

func (a *API) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notices": a.notices.Active(sessionIDFrom(r.Context())),
	})
}

// handleNotificationResource dismisses /notifications/{id}. Only notices
// visible to the session can be dismissed through it.
func (a *API) handleNotificationResource(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/notifications/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodDelete && r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodDelete, http.MethodPost)
		return
	}
	visible := false
	for _, n := range a.notices.Active(sessionIDFrom(r.Context())) {
		if n.ID == id {
			visible = true
			break
		}
	}
	if !visible || !a.notices.Dismiss(id) {
		writeError(w, r, http.StatusNotFound, notify.ErrNotFound.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
