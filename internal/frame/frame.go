package frame

// Kind identifies the variant of a Frame on the wire (the "type" field).
type Kind string

const (
	KindInput     Kind = "input"     // client → server keystrokes
	KindResize    Kind = "resize"    // client → server viewport change
	KindOutput    Kind = "output"    // server → client screen bytes
	KindMetrics   Kind = "metrics"   // server → client telemetry snapshot
	KindConnected Kind = "connected" // server → client session established
	KindError     Kind = "error"     // server → client channel error

	// KindUnknown marks well-formed frames whose type this client does not know.
	KindUnknown Kind = "unknown"
	// KindRaw marks payloads that are not frames at all.
	KindRaw Kind = "raw"
)

// Frame is one typed application-level message. The set of implementations is
// closed; consumers switch on the concrete type.
type Frame interface {
	Kind() Kind
	isFrame()
}

// Input carries keystrokes or pasted text to the remote PTY.
type Input struct {
	Data []byte
}

// Resize tells the remote PTY the viewport size.
type Resize struct {
	Cols int
	Rows int
}

// Output carries screen bytes from the remote PTY.
type Output struct {
	Data []byte
}

// Metrics carries one telemetry snapshot.
type Metrics struct {
	Sample MetricsSample
}

// Connected is the server's notice that the channel is established.
type Connected struct {
	Message string
}

// Error is a channel-fatal or channel-warning signal from the far end.
type Error struct {
	Message string
	Type    ErrorType
	Details map[string]interface{}
}

// Unknown is a well-formed JSON object with a missing or unrecognized type.
// Fields holds the parsed object; Text the original message.
type Unknown struct {
	Type   string
	Fields map[string]interface{}
	Text   []byte
}

// Raw is a payload that could not be interpreted as a frame. On the terminal
// channel it is literal output.
type Raw struct {
	Data []byte
}

func (Input) Kind() Kind     { return KindInput }
func (Resize) Kind() Kind    { return KindResize }
func (Output) Kind() Kind    { return KindOutput }
func (Metrics) Kind() Kind   { return KindMetrics }
func (Connected) Kind() Kind { return KindConnected }
func (Error) Kind() Kind     { return KindError }
func (Unknown) Kind() Kind   { return KindUnknown }
func (Raw) Kind() Kind       { return KindRaw }

func (Input) isFrame()     {}
func (Resize) isFrame()    {}
func (Output) isFrame()    {}
func (Metrics) isFrame()   {}
func (Connected) isFrame() {}
func (Error) isFrame()     {}
func (Unknown) isFrame()   {}
func (Raw) isFrame()       {}

// ErrorType classifies channel-reported errors. The known values are a
// minimum set; anything else the backend sends is preserved as-is.
type ErrorType string

const (
	ErrorAuth           ErrorType = "auth"
	ErrorUnreachable    ErrorType = "unreachable"
	ErrorBackendFailure ErrorType = "backend_failure"
	ErrorUnknown        ErrorType = "unknown"
)

// Retryable reports whether reconnecting can fix the error. Authentication
// failures do not heal by retrying.
func (t ErrorType) Retryable() bool {
	return t != ErrorAuth
}

// Known reports whether t is one of the documented error types.
func (t ErrorType) Known() bool {
	switch t {
	case ErrorAuth, ErrorUnreachable, ErrorBackendFailure, ErrorUnknown:
		return true
	}
	return false
}
