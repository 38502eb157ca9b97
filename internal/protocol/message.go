// internal/protocol/message.go
package protocol

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Protocol limits
const (
	MaxMessageSize = 1 << 20 // 1 MiB
	MaxBatchSize   = 100
	MaxSkew        = 5 * time.Minute
)

// Command names
const (
	CmdConnect            = "connect"
	CmdDisconnect         = "disconnect"
	CmdStatus             = "status"
	CmdListConnections    = "listConnections"
	CmdValidateConnection = "validateConnection"
	CmdRead               = "read"
	CmdWrite              = "write"
	CmdReadBatch          = "readBatch"
	CmdWriteBatch         = "writeBatch"
	CmdServerStatus       = "serverStatus"
	CmdProtocolInfo       = "protocolInfo"
)

// legacyAliases maps the historical command names onto their canonical
// handlers. Aliases are pure routing, the response shape is the canonical one.
var legacyAliases = map[string]string{
	"connect_device":    CmdConnect,
	"disconnect_device": CmdDisconnect,
	"device_status":     CmdStatus,
	"read_data":         CmdRead,
	"write_data":        CmdWrite,
}

var knownCommands = map[string]bool{
	CmdConnect:            true,
	CmdDisconnect:         true,
	CmdStatus:             true,
	CmdListConnections:    true,
	CmdValidateConnection: true,
	CmdRead:               true,
	CmdWrite:              true,
	CmdReadBatch:          true,
	CmdWriteBatch:         true,
	CmdServerStatus:       true,
	CmdProtocolInfo:       true,
}

var messageIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,64}$`)

// Request is the inbound IPC envelope
type Request struct {
	Version   string          `json:"version"`
	MessageID string          `json:"messageId"`
	Timestamp time.Time       `json:"timestamp"`
	Command   string          `json:"command"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Response is the outbound IPC envelope. Exactly one of Data and Error is
// set depending on Success.
type Response struct {
	Version          string         `json:"version"`
	MessageID        string         `json:"messageId"`
	Timestamp        time.Time      `json:"timestamp"`
	Success          bool           `json:"success"`
	ProcessingTimeMs float64        `json:"processingTimeMs"`
	Data             interface{}    `json:"data,omitempty"`
	Error            *ErrorResponse `json:"error,omitempty"`
}

// CanonicalCommand resolves legacy aliases, returning the canonical name
// and whether the command is known at all.
func CanonicalCommand(cmd string) (string, bool) {
	if canonical, ok := legacyAliases[cmd]; ok {
		return canonical, true
	}
	if knownCommands[cmd] {
		return cmd, true
	}
	return "", false
}

// KnownCommands returns the sorted canonical command set.
func KnownCommands() []string {
	cmds := make([]string, 0, len(knownCommands))
	for cmd := range knownCommands {
		cmds = append(cmds, cmd)
	}
	sort.Strings(cmds)
	return cmds
}

// LegacyAliases returns the alias -> canonical command mapping.
func LegacyAliases() map[string]string {
	out := make(map[string]string, len(legacyAliases))
	for alias, canonical := range legacyAliases {
		out[alias] = canonical
	}
	return out
}

// ValidMessageID reports whether id is 8-64 chars of [A-Za-z0-9_-] or a UUID.
func ValidMessageID(id string) bool {
	if messageIDPattern.MatchString(id) {
		return true
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// Validate checks the envelope against the supported protocol version and
// the server clock. All failures are aggregated into one validation error;
// a nil return means the envelope is well-formed.
func (r *Request) Validate(supportedVersion string, now time.Time) *ErrorResponse {
	var details []string

	if r.MessageID == "" {
		details = append(details, "messageId is required")
	} else if !ValidMessageID(r.MessageID) {
		details = append(details, "messageId must be 8-64 chars of [A-Za-z0-9_-] or a UUID")
	}

	if r.Command == "" {
		details = append(details, "command is required")
	}

	if r.Version == "" {
		details = append(details, "version is required")
	} else if r.Version != supportedVersion {
		details = append(details, fmt.Sprintf("unsupported version %s, server speaks %s", r.Version, supportedVersion))
	}

	if r.Timestamp.IsZero() {
		details = append(details, "timestamp is required")
	} else if skew := now.Sub(r.Timestamp); skew > MaxSkew || skew < -MaxSkew {
		details = append(details, fmt.Sprintf("timestamp outside the +/-%s skew tolerance", MaxSkew))
	}

	if len(details) == 0 {
		return nil
	}
	return NewError(CodeValidationFailed, ErrorTypeValidation, "request validation failed", details...)
}
