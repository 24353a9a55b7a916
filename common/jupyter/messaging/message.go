package messaging

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const (
	MessageHeaderDefaultUsername = "username"
	ProtocolVersion              = "5.3"

	IOStatusMessage       = "status"
	IOStreamMessage       = "stream"
	KernelInfoRequest     = "kernel_info_request"
	KernelInfoReply       = "kernel_info_reply"
	ShellExecuteRequest   = "execute_request"
	ShellExecuteReply     = "execute_reply"
	ShellShutdownRequest  = "shutdown_request"
	ShellShutdownReply    = "shutdown_reply"
	ControlInterruptReply = "interrupt_reply"

	JavascriptISOString = "2006-01-02T15:04:05.999Z07:00"
)

var (
	ErrInvalidJupyterMessage       = errors.New("invalid jupyter message")
	ErrNotSupportedSignatureScheme = errors.New("not supported signature scheme")
	ErrInvalidJupyterSignature     = errors.New("invalid jupyter signature")
	ErrNoContent                   = errors.New("message has no content")
)

type JupyterMessageType string

func (t JupyterMessageType) String() string {
	return string(t)
}

// GetBaseMessageType returns the base portion of the Jupyter message type.
//
// If the message type is "kernel_info_request", then this returns "kernel_info_" and true.
// If the message type is not of the form "{action}_request" or "{action}_reply", then this
// returns the empty string and false.
func (t JupyterMessageType) GetBaseMessageType() (string, bool) {
	if strings.HasSuffix(t.String(), "request") {
		return t.String()[0 : len(t.String())-7], true
	} else if strings.HasSuffix(t.String(), "reply") {
		return t.String()[0 : len(t.String())-5], true
	}

	return "", false
}

// MessageHeader is a Jupyter message header.
// http://jupyter-client.readthedocs.io/en/latest/messaging.html#general-message-format
type MessageHeader struct {
	MsgID    string             `json:"msg_id"`
	Username string             `json:"username"`
	Session  string             `json:"session"`
	Date     string             `json:"date"`
	MsgType  JupyterMessageType `json:"msg_type"`
	Version  string             `json:"version"`
}

func (header *MessageHeader) Clone() *MessageHeader {
	clone := *header
	return &clone
}

// IsEmpty returns true for the "{}" parent header of a message that has no parent.
func (header *MessageHeader) IsEmpty() bool {
	return header.MsgID == ""
}

func (header *MessageHeader) String() string {
	m, err := json.Marshal(header)
	if err != nil {
		panic(err)
	}

	return string(m)
}

// Message represents an entire message in a high-level structure.
// Content is kept raw and decoded on demand, since its schema depends on the message type.
type Message struct {
	Header       MessageHeader          `json:"header"`
	ParentHeader MessageHeader          `json:"parent_header"`
	Metadata     map[string]interface{} `json:"metadata"`
	Content      json.RawMessage        `json:"content"`
	Buffers      [][]byte               `json:"-"`
}

// NewMessage is the message factory: a fresh msg_id, the given session, and an empty parent header.
func NewMessage(msgType string, session string) *Message {
	return &Message{
		Header: MessageHeader{
			MsgID:    uuid.New().String(),
			Username: MessageHeaderDefaultUsername,
			Session:  session,
			Date:     time.Now().UTC().Format(JavascriptISOString),
			MsgType:  JupyterMessageType(msgType),
			Version:  ProtocolVersion,
		},
		Metadata: make(map[string]interface{}),
		Content:  json.RawMessage("{}"),
	}
}

// NewMessageWithContent creates a message via NewMessage and encodes the given content into it.
func NewMessageWithContent(msgType string, session string, content interface{}) (*Message, error) {
	msg := NewMessage(msgType, session)
	if err := msg.EncodeContent(content); err != nil {
		return nil, err
	}

	return msg, nil
}

// NewReply creates a message whose parent header is the header of the given request.
func NewReply(parent *Message, msgType string, content interface{}) (*Message, error) {
	msg, err := NewMessageWithContent(msgType, parent.Header.Session, content)
	if err != nil {
		return nil, err
	}

	msg.ParentHeader = parent.Header
	return msg, nil
}

func (msg *Message) MsgID() string {
	return msg.Header.MsgID
}

func (msg *Message) MsgType() string {
	return msg.Header.MsgType.String()
}

func (msg *Message) ParentMsgID() string {
	return msg.ParentHeader.MsgID
}

// IsChildOf returns true if this message's parent header references the given request.
func (msg *Message) IsChildOf(request *Message) bool {
	if request == nil || msg.ParentHeader.IsEmpty() {
		return false
	}

	return msg.ParentHeader.MsgID == request.Header.MsgID
}

func (msg *Message) EncodeContent(content interface{}) (err error) {
	if content == nil {
		msg.Content = json.RawMessage("{}")
		return nil
	}

	msg.Content, err = json.Marshal(content)
	return err
}

func (msg *Message) DecodeContent(out interface{}) error {
	if len(msg.Content) == 0 {
		return ErrNoContent
	}

	return json.Unmarshal(msg.Content, out)
}

func (msg *Message) String() string {
	m, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}

	return string(m)
}

// ExecutionState is the value of the "execution_state" field of an IOPub status message.
type ExecutionState string

const (
	ExecutionStateStarting   ExecutionState = "starting"
	ExecutionStateIdle       ExecutionState = "idle"
	ExecutionStateBusy       ExecutionState = "busy"
	ExecutionStateRestarting ExecutionState = "restarting"
	ExecutionStateDead       ExecutionState = "dead"
)

func (s ExecutionState) String() string {
	return string(s)
}

type MessageKernelStatus struct {
	Status ExecutionState `json:"execution_state"`
}

// LanguageInfo is the "language_info" field of a kernel_info_reply.
type LanguageInfo struct {
	Name              string      `json:"name"`
	Version           string      `json:"version,omitempty"`
	MimeType          string      `json:"mimetype,omitempty"`
	FileExtension     string      `json:"file_extension,omitempty"`
	PygmentsLexer     string      `json:"pygments_lexer,omitempty"`
	CodemirrorMode    interface{} `json:"codemirror_mode,omitempty"`
	NbconvertExporter string      `json:"nbconvert_exporter,omitempty"`
}

func (li *LanguageInfo) String() string {
	return fmt.Sprintf("%s %s", li.Name, li.Version)
}

type MessageKernelInfoReply struct {
	Status                string        `json:"status"`
	ProtocolVersion       string        `json:"protocol_version"`
	Implementation        string        `json:"implementation"`
	ImplementationVersion string        `json:"implementation_version"`
	LanguageInfo          *LanguageInfo `json:"language_info"`
	Banner                string        `json:"banner"`
}

type MessageShutdownRequest struct {
	Restart bool `json:"restart"`
}
