package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogEmitter writes one line per event to a writer.
//
// Text mode:
//
//	[bug_found] runID=run-001 iteration=3 step=17 actor=Server(2) meta={"kind":"assertion"}
//
// JSON mode (JSONL):
//
//	{"runID":"run-001","iteration":3,"step":17,"actor":"Server(2)","msg":"bug_found","meta":{"kind":"assertion"}}
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter. A nil writer means os.Stdout.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{
		writer:   writer,
		jsonMode: jsonMode,
	}
}

// Emit writes event to the writer.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		RunID     string                 `json:"runID"`
		Iteration int                    `json:"iteration"`
		Step      int                    `json:"step"`
		ActorID   string                 `json:"actor,omitempty"`
		Msg       string                 `json:"msg"`
		Meta      map[string]interface{} `json:"meta"`
	}{
		RunID:     event.RunID,
		Iteration: event.Iteration,
		Step:      event.Step,
		ActorID:   event.ActorID,
		Msg:       event.Msg,
		Meta:      event.Meta,
	})
	if err != nil {
		fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	fmt.Fprintf(l.writer, "[%s] runID=%s iteration=%d step=%d",
		event.Msg, event.RunID, event.Iteration, event.Step)
	if event.ActorID != "" {
		fmt.Fprintf(l.writer, " actor=%s", event.ActorID)
	}
	if len(event.Meta) > 0 {
		metaJSON, err := json.Marshal(event.Meta)
		if err == nil {
			fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		} else {
			fmt.Fprintf(l.writer, " meta=%v", event.Meta)
		}
	}
	fmt.Fprint(l.writer, "\n")
}
