package protocol

// Request and reply bodies for the message types the client builds or
// inspects.  Replies are returned as raw messages; these types are for
// callers that want to decode them.

type ExecuteRequest struct {
	Code            string         `json:"code"`
	Silent          bool           `json:"silent"`
	StoreHistory    bool           `json:"store_history"`
	UserExpressions map[string]any `json:"user_expressions"`
	AllowStdin      bool           `json:"allow_stdin"`
	StopOnError     bool           `json:"stop_on_error"`
}

// NewExecuteRequest returns the defaults an interactive client uses.
func NewExecuteRequest(code string) ExecuteRequest {
	return ExecuteRequest{
		Code:            code,
		StoreHistory:    true,
		UserExpressions: map[string]any{},
		AllowStdin:      true,
		StopOnError:     false,
	}
}

type ExecuteReply struct {
	Status         string `json:"status"`
	ExecutionCount int    `json:"execution_count"`
	EName          string `json:"ename,omitempty"`
	EValue         string `json:"evalue,omitempty"`
}

type InspectRequest struct {
	Code        string `json:"code"`
	CursorPos   int    `json:"cursor_pos"`
	DetailLevel int    `json:"detail_level"`
}

type CompleteRequest struct {
	Code      string `json:"code"`
	CursorPos int    `json:"cursor_pos"`
}

type CompleteReply struct {
	Status      string         `json:"status"`
	Matches     []string       `json:"matches"`
	CursorStart int            `json:"cursor_start"`
	CursorEnd   int            `json:"cursor_end"`
	Metadata    map[string]any `json:"metadata"`
}

type HistoryRequest struct {
	Output         bool   `json:"output"`
	Raw            bool   `json:"raw"`
	HistAccessType string `json:"hist_access_type"` // "range", "tail" or "search"
	Session        int    `json:"session,omitempty"`
	Start          int    `json:"start,omitempty"`
	Stop           int    `json:"stop,omitempty"`
	N              int    `json:"n,omitempty"`
	Pattern        string `json:"pattern,omitempty"`
	Unique         bool   `json:"unique,omitempty"`
}

type IsCompleteRequest struct {
	Code string `json:"code"`
}

type CommInfoRequest struct {
	TargetName string `json:"target_name,omitempty"`
}

type DebugRequest struct {
	Seq       int    `json:"seq"`
	Type      string `json:"type"`
	Command   string `json:"command"`
	Arguments any    `json:"arguments,omitempty"`
}

type InputReply struct {
	Value  string `json:"value"`
	Status string `json:"status"`
}

type InputRequest struct {
	Prompt   string `json:"prompt"`
	Password bool   `json:"password"`
}

type StatusContent struct {
	ExecutionState Status `json:"execution_state"`
}

type StreamContent struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

type ShutdownRequest struct {
	Restart bool `json:"restart"`
}

type LanguageInfo struct {
	Name          string `json:"name"`
	Version       string `json:"version,omitempty"`
	MimeType      string `json:"mimetype,omitempty"`
	FileExtension string `json:"file_extension,omitempty"`
}

// KernelInfo is the kernel_info_reply content.
type KernelInfo struct {
	Status                string       `json:"status"`
	ProtocolVersion       string       `json:"protocol_version"`
	Implementation        string       `json:"implementation"`
	ImplementationVersion string       `json:"implementation_version"`
	LanguageInfo          LanguageInfo `json:"language_info"`
	Banner                string       `json:"banner"`
}

type CommOpen struct {
	CommID     string         `json:"comm_id"`
	TargetName string         `json:"target_name"`
	Data       map[string]any `json:"data"`
}

type CommMsg struct {
	CommID     string         `json:"comm_id"`
	Data       map[string]any `json:"data"`
	TargetName string         `json:"target_name,omitempty"`
}

type CommClose struct {
	CommID string         `json:"comm_id"`
	Data   map[string]any `json:"data"`
}
