package codes

// Dispatch unit status codes
const (
	UnitStatusPending = "pending"
	UnitStatusSending = "sending"
	UnitStatusSuccess = "success"
	UnitStatusFailed  = "failed"
)

// Dispatch modes
const (
	ModeGroup        = "group"        // One send call per batch, shared message
	ModePersonalized = "personalized" // One send call per row, rendered message
)

// Contact ingestion source types
const (
	SourceCSV    = "csv"
	SourceXLSX   = "xlsx"
	SourceJSON   = "json"
	SourceText   = "text"
	SourceGroup  = "group"
	SourceManual = "manual"
)

// Gateway transport names
const (
	TransportHTTP = "http"
	TransportSMPP = "smpp"
)

// Connection Status Codes (SMPP transmitter)
const (
	StatusDisconnected = "disconnected"
	StatusConnecting   = "connecting"
	StatusBound        = "bound"
	StatusUnbinding    = "unbinding"
)

// Run Final Status Codes
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusAborted   = "aborted"
)
