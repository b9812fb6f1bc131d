package reqrecord

import (
	"encoding/json"
	"time"
)

// How a request ended
const (
	OutcomeComplete   = "complete"
	OutcomeCancel     = "cancel"
	OutcomeTimeout    = "timeout"
	OutcomeDisconnect = "disconnect"
)

// Record of a terminated request
type Record struct {
	Id         uint16    `json:"id" bigquery:"id"`
	Task       string    `json:"task" bigquery:"task"`
	TaskId     uint16    `json:"taskId" bigquery:"task_id"`
	RemoteNode string    `json:"remoteNode" bigquery:"remote_node"`
	RemoteTask string    `json:"remoteTask" bigquery:"remote_task"`
	Multicast  bool      `json:"multicast" bigquery:"multicast"`
	Multiple   bool      `json:"multiple" bigquery:"multiple"`
	Outcome    string    `json:"outcome" bigquery:"outcome"`
	Start      time.Time `json:"start" bigquery:"start"`
	End        time.Time `json:"end" bigquery:"end"`
	Replies    uint32    `json:"replies" bigquery:"replies"`
}

// Returns the record as a single line of JSON, terminated with a newline
func (r *Record) String() string {
	b, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	return string(b) + "\n"
}

// Builds a record from its JSON representation
func NewRecordFromString(line string) (*Record, error) {
	var r Record
	if err := json.Unmarshal([]byte(line), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Destination of the records. WriteRecord must not block the caller for long
type RecordWriter interface {
	WriteRecord(r *Record)
	Close()
}
