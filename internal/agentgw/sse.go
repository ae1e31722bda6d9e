package agentgw

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// RelaySSE writes events from ch to w as server-sent events, preserving
// arrival order and assigning a monotonic event id per connection (§4.5
// step 6).
func RelaySSE(w http.ResponseWriter, ch <-chan StreamEvent) {
	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var id int64
	for ev := range ch {
		id++
		ev.Seq = id
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, ev.Kind, data)
		if flusher != nil {
			flusher.Flush()
		}
	}
}
