package protocol

// Kind is the `type` discriminator carried by every frame.
type Kind string

// Worker → Client message kinds.
const (
	KindReady             Kind = "ready"
	KindLog               Kind = "log"
	KindProgress          Kind = "progress"
	KindIterationComplete Kind = "iteration_complete"
	KindAllWorkComplete   Kind = "all_work_complete"
	KindError             Kind = "error"
	KindDecisionPrompt    Kind = "decision_prompt"
	KindConnectionStatus  Kind = "connection_status"
	KindStatus            Kind = "status"
	KindShutdownInitiated Kind = "shutdown_initiated"
	KindShutdownReady     Kind = "shutdown_ready"
	KindShutdownFailed    Kind = "shutdown_failed"
	KindShutdownTimeout   Kind = "shutdown_timeout"
	KindGenerationStopped Kind = "generation_stopped"
	KindConversationLog   Kind = "conversation_log"
	KindProcessMonitor    Kind = "process_monitor"
)

// Synthetic kinds raised by the transport, never sent by the worker.
const (
	KindConnected    Kind = "connected"
	KindDisconnected Kind = "disconnected"
)

// Message is one inbound frame, decoded into its concrete payload type.
type Message interface {
	Kind() Kind
}

// Log levels used by the worker.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
	LevelDebug = "debug"
)

type Ready struct{}

type Log struct {
	Line  string `json:"line"`
	Level string `json:"level,omitempty"`
}

type Progress struct {
	Stage           string  `json:"stage,omitempty"`
	Step            string  `json:"step,omitempty"`
	Percentage      float64 `json:"percentage,omitempty"`
	Iteration       int     `json:"iteration,omitempty"`
	TotalIterations int     `json:"total_iterations,omitempty"`
}

type IterationComplete struct {
	Iteration int `json:"iteration"`
}

type AllWorkComplete struct {
	CompletionReason string `json:"completion_reason"`
	TotalIterations  int    `json:"total_iterations"`
	GithubURL        string `json:"github_url,omitempty"`
	DownloadURL      string `json:"download_url,omitempty"`
}

// Error reports a worker-side failure. Fatal errors end the session.
type Error struct {
	Message      string `json:"message"`
	ErrorCode    string `json:"error_code,omitempty"`
	RecoveryHint string `json:"recovery_hint,omitempty"`
	Fatal        bool   `json:"fatal"`
}

// DecisionPrompt asks the caller to choose between options, or to type a
// custom answer when AllowCustom is set.
type DecisionPrompt struct {
	PromptID    string   `json:"prompt_id"`
	Question    string   `json:"question"`
	Options     []string `json:"options,omitempty"`
	AllowCustom bool     `json:"allow_custom"`
}

type ConnectionStatus struct {
	BrowserConnected   bool `json:"browser_connected"`
	ContainerConnected bool `json:"container_connected"`
}

type Status struct {
	Message string `json:"message"`
}

type ShutdownInitiated struct {
	Message string `json:"message"`
}

// ShutdownReady confirms the worker saved its state after a stop request.
type ShutdownReady struct {
	Message    string `json:"message"`
	CommitHash string `json:"commit_hash,omitempty"`
	Pushed     bool   `json:"pushed"`
}

type ShutdownFailed struct {
	Reason string `json:"reason"`
}

type ShutdownTimeout struct {
	Message string `json:"message"`
}

type GenerationStopped struct {
	Message string `json:"message"`
}

// ConversationEntry is one turn of the agent transcript forwarded by the worker.
type ConversationEntry struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Tool      string `json:"tool,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type ConversationLog struct {
	Iteration int                 `json:"iteration,omitempty"`
	Entries   []ConversationEntry `json:"entries"`
}

type Trajectory struct {
	Score   float64  `json:"score"`
	Signals []string `json:"signals"`
}

type MonitorStats struct {
	Tokens     int     `json:"tokens"`
	CostUSD    float64 `json:"cost_usd"`
	Tools      int     `json:"tools"`
	EntryCount int     `json:"entry_count"`
}

type MonitorWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ProcessMonitor is a periodic summary of the worker's agent activity.
type ProcessMonitor struct {
	Summary    string        `json:"summary"`
	Trajectory Trajectory    `json:"trajectory"`
	Stats      MonitorStats  `json:"stats"`
	Window     MonitorWindow `json:"window"`
}

type Connected struct{}

type Disconnected struct {
	Reason string `json:"reason,omitempty"`
}

func (Ready) Kind() Kind             { return KindReady }
func (Log) Kind() Kind               { return KindLog }
func (Progress) Kind() Kind          { return KindProgress }
func (IterationComplete) Kind() Kind { return KindIterationComplete }
func (AllWorkComplete) Kind() Kind   { return KindAllWorkComplete }
func (Error) Kind() Kind             { return KindError }
func (DecisionPrompt) Kind() Kind    { return KindDecisionPrompt }
func (ConnectionStatus) Kind() Kind  { return KindConnectionStatus }
func (Status) Kind() Kind            { return KindStatus }
func (ShutdownInitiated) Kind() Kind { return KindShutdownInitiated }
func (ShutdownReady) Kind() Kind     { return KindShutdownReady }
func (ShutdownFailed) Kind() Kind    { return KindShutdownFailed }
func (ShutdownTimeout) Kind() Kind   { return KindShutdownTimeout }
func (GenerationStopped) Kind() Kind { return KindGenerationStopped }
func (ConversationLog) Kind() Kind   { return KindConversationLog }
func (ProcessMonitor) Kind() Kind    { return KindProcessMonitor }
func (Connected) Kind() Kind         { return KindConnected }
func (Disconnected) Kind() Kind      { return KindDisconnected }

// Kinds lists every kind a transport may dispatch, synthetic ones included.
func Kinds() []Kind {
	return []Kind{
		KindConnected, KindDisconnected,
		KindReady, KindLog, KindProgress, KindIterationComplete, KindAllWorkComplete,
		KindError, KindDecisionPrompt, KindConnectionStatus, KindStatus,
		KindShutdownInitiated, KindShutdownReady, KindShutdownFailed, KindShutdownTimeout,
		KindGenerationStopped, KindConversationLog, KindProcessMonitor,
	}
}
