package n8n

import (
	"bytes"
	"encoding/json"
	"time"
)

// Workflow is a workflow document as returned by the workflow server.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Active      bool           `json:"active"`
	Nodes       []Node         `json:"nodes"`
	Connections map[string]any `json:"connections"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	Tags        []Tag          `json:"tags,omitempty"`
	Settings    map[string]any `json:"settings,omitempty"`
	StaticData  any            `json:"staticData,omitempty"`
}

// Node is one step of a workflow. Parameters are kept as opaque JSON since the
// node-type schemas belong to the server.
type Node struct {
	ID          string         `json:"id,omitempty"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	TypeVersion float64        `json:"typeVersion"`
	Position    []float64      `json:"position"`
	Parameters  map[string]any `json:"parameters"`
	Credentials map[string]any `json:"credentials,omitempty"`
	Disabled    bool           `json:"disabled,omitempty"`
	Notes       string         `json:"notes,omitempty"`
}

// Tag is a workflow label. Reads return objects, while a PUT echoes the bare
// id references it was sent, so both forms decode.
type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

func (t *Tag) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		var id FlexID
		if err := id.UnmarshalJSON(b); err != nil {
			return err
		}
		*t = Tag{ID: string(id)}
		return nil
	}
	var raw struct {
		ID   FlexID `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*t = Tag{ID: string(raw.ID), Name: raw.Name}
	return nil
}

// Execution is a historical run record. It is only ever read.
type Execution struct {
	ID             FlexID         `json:"id"`
	Finished       bool           `json:"finished"`
	Mode           string         `json:"mode"`
	Status         string         `json:"status,omitempty"`
	RetryOf        FlexID         `json:"retryOf,omitempty"`
	RetrySuccessID FlexID         `json:"retrySuccessId,omitempty"`
	StartedAt      *time.Time     `json:"startedAt,omitempty"`
	StoppedAt      *time.Time     `json:"stoppedAt,omitempty"`
	WorkflowID     FlexID         `json:"workflowId"`
	Data           *ExecutionData `json:"data,omitempty"`
}

type ExecutionData struct {
	ResultData ResultData `json:"resultData"`
}

type ResultData struct {
	RunData          map[string]any `json:"runData,omitempty"`
	LastNodeExecuted string         `json:"lastNodeExecuted,omitempty"`
	Error            map[string]any `json:"error,omitempty"`
}

// ErrorMessage returns the recorded failure message, if any.
func (e Execution) ErrorMessage() string {
	if e.Data == nil || e.Data.ResultData.Error == nil {
		return ""
	}
	msg, _ := e.Data.ResultData.Error["message"].(string)
	return msg
}

// FlexID accepts ids encoded either as JSON strings or numbers; execution ids
// are numeric on some server versions.
type FlexID string

func (f *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

type listResponse[T any] struct {
	Data       []T    `json:"data"`
	NextCursor string `json:"nextCursor,omitempty"`
}
