package llm

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/yungbote/scholarcast-backend/internal/pkg/logger"
)

// CallLogFileName is the per-job append-only gateway call log.
const CallLogFileName = "llm_calls.jsonl"

// CallLog is an Observer sink writing one JSON line per gateway attempt.
// Appends are serialized; a write failure disables the log rather than
// failing the call.
type CallLog struct {
	log  *logger.Logger
	path string

	mu     sync.Mutex
	broken bool
}

func NewCallLog(log *logger.Logger, dir string) *CallLog {
	return &CallLog{
		log:  log.With("service", "CallLog"),
		path: filepath.Join(dir, CallLogFileName),
	}
}

// Observe implements the gateway Observer.
func (c *CallLog) Observe(rec CallRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		c.log.Warn("call log unwritable; disabling", "path", c.path, "error", err.Error())
		c.broken = true
		return
	}
	defer f.Close()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		c.log.Warn("call log append failed; disabling", "path", c.path, "error", err.Error())
		c.broken = true
	}
}
