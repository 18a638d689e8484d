package workflow

import "time"

// Workflow represents a workflow definition with its graph of nodes and edges.
type Workflow struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Nodes      []Node         `json:"nodes"`
	Edges      []Edge         `json:"edges"`
	Settings   Settings       `json:"settings"`
	StaticData map[string]any `json:"staticData,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// Settings holds workflow-level execution preferences.
type Settings struct {
	ExecutionOrder           string `json:"executionOrder,omitempty"`
	SaveDataSuccessExecution string `json:"saveDataSuccessExecution,omitempty"`
	SaveDataErrorExecution   string `json:"saveDataErrorExecution,omitempty"`
}

const (
	ExecutionOrderV0 = "v0"
	ExecutionOrderV1 = "v1"

	SaveDataAll  = "all"
	SaveDataNone = "none"
)

// Node represents a configured instance of a registered node type.
type Node struct {
	ID               string                   `json:"id"`
	Name             string                   `json:"name,omitempty"`
	Type             string                   `json:"type"`
	Position         Position                 `json:"position"`
	Parameters       map[string]any           `json:"parameters,omitempty"`
	Disabled         bool                     `json:"disabled,omitempty"`
	RetryOnFail      bool                     `json:"retryOnFail,omitempty"`
	MaxTries         int                      `json:"maxTries,omitempty"`
	WaitBetweenTries *int                     `json:"waitBetweenTries,omitempty"` // milliseconds; nil means 1000
	ContinueOnFail   bool                     `json:"continueOnFail,omitempty"`
	ExecuteOnce      bool                     `json:"executeOnce,omitempty"`
	AlwaysOutputData bool                     `json:"alwaysOutputData,omitempty"`
	Credentials      map[string]CredentialRef `json:"credentials,omitempty"`
}

// DisplayName returns the node name, falling back to its ID.
func (n *Node) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}

// Position holds x/y coordinates for rendering the node on the canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CredentialRef points at a credential held by the external credential store.
type CredentialRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Edge represents a directed connection from one node's output to another
// node's input. The canvas-only fields are round-tripped untouched.
type Edge struct {
	ID           string         `json:"id"`
	Source       string         `json:"source"`
	Target       string         `json:"target"`
	Label        string         `json:"label,omitempty"`
	Type         string         `json:"type,omitempty"`
	SourceHandle string         `json:"sourceHandle,omitempty"`
	TargetHandle string         `json:"targetHandle,omitempty"`
	Animated     bool           `json:"animated,omitempty"`
	Style        map[string]any `json:"style,omitempty"`
	LabelStyle   map[string]any `json:"labelStyle,omitempty"`
}

// ExecutionItem is the unit of data flowing along edges.
type ExecutionItem struct {
	JSON       map[string]any        `json:"json"`
	Binary     map[string]BinaryData `json:"binary,omitempty"`
	PairedItem *PairedItem           `json:"pairedItem,omitempty"`
}

// PairedItem links an output item back to the input item it came from.
type PairedItem struct {
	Item  int `json:"item"`
	Input int `json:"input,omitempty"`
}

// BinaryData is a base64-encoded file attached to an item.
type BinaryData struct {
	Data          string `json:"data"`
	MimeType      string `json:"mimeType"`
	FileName      string `json:"fileName,omitempty"`
	FileExtension string `json:"fileExtension,omitempty"`
	FileSize      string `json:"fileSize,omitempty"`
}

// NodeStatus is the lifecycle state of a node within one run.
type NodeStatus string

const (
	StatusPending NodeStatus = "pending"
	StatusRunning NodeStatus = "running"
	StatusSuccess NodeStatus = "success"
	StatusError   NodeStatus = "error"
	StatusSkipped NodeStatus = "skipped"
)

// IsTerminal reports whether no further transition can happen.
func (s NodeStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusSkipped
}

// Mode describes what triggered a run.
type Mode string

const (
	ModeManual  Mode = "manual"
	ModeTrigger Mode = "trigger"
	ModeWebhook Mode = "webhook"
	ModeTest    Mode = "test"
)

// NodeExecutionState tracks one node during one run.
type NodeExecutionState struct {
	NodeID    string            `json:"nodeId"`
	Status    NodeStatus        `json:"status"`
	Input     [][]ExecutionItem `json:"input,omitempty"`
	Output    [][]ExecutionItem `json:"output,omitempty"`
	Error     *ErrorInfo        `json:"error,omitempty"`
	Attempts  int               `json:"attempts,omitempty"`
	StartedAt time.Time         `json:"startedAt,omitempty"`
	EndedAt   time.Time         `json:"endedAt,omitempty"`
}

// ErrorInfo is the serializable form of a node or run failure.
type ErrorInfo struct {
	Name       string `json:"name"`
	Message    string `json:"message"`
	NodeID     string `json:"nodeId,omitempty"`
	Expression string `json:"expression,omitempty"`
}

// ExecutionStatus is the aggregate outcome of a run.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionError   ExecutionStatus = "error"
)

// ExecutionRecord is the result of one end-to-end run.
type ExecutionRecord struct {
	ID         string          `json:"id"`
	WorkflowID string          `json:"workflowId"`
	Mode       Mode            `json:"mode"`
	Status     ExecutionStatus `json:"status"`
	StartedAt  time.Time       `json:"startedAt"`
	StoppedAt  time.Time       `json:"stoppedAt"`
	Data       ExecutionData   `json:"data"`
	StaticData map[string]any  `json:"staticData,omitempty"`
}

// ExecutionData wraps the per-run result data.
type ExecutionData struct {
	ResultData ResultData `json:"resultData"`
}

// ResultData holds per-node run data keyed by node ID.
type ResultData struct {
	RunData          map[string]NodeRunData `json:"runData"`
	LastNodeExecuted string                 `json:"lastNodeExecuted,omitempty"`
	Error            *ErrorInfo             `json:"error,omitempty"`
}

// NodeRunData is the recorded outcome of one node.
type NodeRunData struct {
	Status        NodeStatus        `json:"status"`
	StartTime     int64             `json:"startTime,omitempty"`     // unix milliseconds
	ExecutionTime int64             `json:"executionTime,omitempty"` // milliseconds
	Attempts      int               `json:"attempts,omitempty"`
	InputData     [][]ExecutionItem `json:"inputData,omitempty"`
	Data          *NodeOutputData   `json:"data,omitempty"`
	Error         *ErrorInfo        `json:"error,omitempty"`
}

// NodeOutputData carries a node's output channels.
type NodeOutputData struct {
	Main [][]ExecutionItem `json:"main"`
}
