// Package wire defines the kernel message envelope and converts it to
// and from the payload shape a kernel-protocol socket carries.
//
// Messages are treated as immutable once built: the (de)serializers
// never modify their input and every constructor returns a fresh value.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is stamped on every header built by NewMessage.
const ProtocolVersion = "5.3"

// Channel names one of the kernel messaging streams.
type Channel string

const (
	ChannelShell   Channel = "shell"
	ChannelControl Channel = "control"
	ChannelIOPub   Channel = "iopub"
	ChannelStdin   Channel = "stdin"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelShell, ChannelControl, ChannelIOPub, ChannelStdin:
		return true
	}
	return false
}

// ExpectsReply reports whether requests on c get at most one reply.
// iopub is broadcast and unbounded.
func (c Channel) ExpectsReply() bool {
	return c == ChannelShell || c == ChannelControl
}

// Header identifies a message and its origin.
type Header struct {
	MsgID    string `json:"msg_id,omitempty"`
	Username string `json:"username,omitempty"`
	Session  string `json:"session,omitempty"`
	Date     string `json:"date,omitempty"`
	MsgType  string `json:"msg_type,omitempty"`
	Version  string `json:"version,omitempty"`
}

// Message is one kernel protocol message.
type Message struct {
	Header       Header          `json:"header"`
	ParentHeader Header          `json:"parent_header"`
	Metadata     json.RawMessage `json:"metadata"`
	Content      json.RawMessage `json:"content"`
	Channel      Channel         `json:"channel"`

	// Buffers travel outside the JSON body.
	Buffers [][]byte `json:"-"`
}

// MessageOptions describes a message to build.  Content and Metadata
// are marshalled with encoding/json; nil becomes an empty object.
type MessageOptions struct {
	MsgType  string
	Channel  Channel
	Session  string
	Username string
	MsgID    string // generated when empty
	Content  any
	Metadata any
	Buffers  [][]byte
	Parent   *Header
}

// NewMessage builds a message from opts.
func NewMessage(opts MessageOptions) (*Message, error) {
	if opts.MsgType == "" {
		return nil, fmt.Errorf("message type is required")
	}
	if !opts.Channel.Valid() {
		return nil, fmt.Errorf("invalid channel %q", opts.Channel)
	}
	content, err := marshalObject(opts.Content)
	if err != nil {
		return nil, fmt.Errorf("content: %w", err)
	}
	metadata, err := marshalObject(opts.Metadata)
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	id := opts.MsgID
	if id == "" {
		id = NewID()
	}

	msg := &Message{
		Header: Header{
			MsgID:    id,
			Username: opts.Username,
			Session:  opts.Session,
			Date:     time.Now().UTC().Format(time.RFC3339Nano),
			MsgType:  opts.MsgType,
			Version:  ProtocolVersion,
		},
		Metadata: metadata,
		Content:  content,
		Channel:  opts.Channel,
		Buffers:  cloneBuffers(opts.Buffers),
	}
	if opts.Parent != nil {
		msg.ParentHeader = *opts.Parent
	}
	return msg, nil
}

// NewReply builds a message whose parent is req.
func NewReply(req *Message, msgType string, channel Channel, content any) (*Message, error) {
	parent := req.Header
	return NewMessage(MessageOptions{
		MsgType:  msgType,
		Channel:  channel,
		Session:  req.Header.Session,
		Username: req.Header.Username,
		Content:  content,
		Parent:   &parent,
	})
}

// NewID returns a fresh message identifier.
func NewID() string {
	return uuid.NewString()
}

// ID returns the message id.
func (m *Message) ID() string { return m.Header.MsgID }

// Type returns the message type.
func (m *Message) Type() string { return m.Header.MsgType }

// ParentID returns the id of the message this one answers, or "".
func (m *Message) ParentID() string { return m.ParentHeader.MsgID }

// DecodeContent unmarshals the content into v.
func (m *Message) DecodeContent(v any) error {
	if len(m.Content) == 0 {
		return fmt.Errorf("%s: empty content", m.Header.MsgType)
	}
	if err := json.Unmarshal(m.Content, v); err != nil {
		return fmt.Errorf("%s content: %w", m.Header.MsgType, err)
	}
	return nil
}

// Validate checks the fields routing depends on.
func (m *Message) Validate() error {
	if m == nil {
		return fmt.Errorf("nil message")
	}
	if m.Header.MsgID == "" {
		return fmt.Errorf("header.msg_id is required")
	}
	if m.Header.MsgType == "" {
		return fmt.Errorf("header.msg_type is required")
	}
	if !m.Channel.Valid() {
		return fmt.Errorf("invalid channel %q", m.Channel)
	}
	if len(m.Content) > 0 && !json.Valid(m.Content) {
		return fmt.Errorf("content is not valid JSON")
	}
	if len(m.Metadata) > 0 && !json.Valid(m.Metadata) {
		return fmt.Errorf("metadata is not valid JSON")
	}
	return nil
}

func (m *Message) String() string {
	return fmt.Sprintf("Message{ID: %s, Type: %s, Channel: %s, Parent: %s}",
		m.Header.MsgID, m.Header.MsgType, m.Channel, m.ParentHeader.MsgID)
}

func marshalObject(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("{}"), nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, fmt.Errorf("invalid JSON")
		}
		return append(json.RawMessage(nil), raw...), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func cloneBuffers(bufs [][]byte) [][]byte {
	if len(bufs) == 0 {
		return nil
	}
	out := make([][]byte, len(bufs))
	for i, b := range bufs {
		out[i] = append([]byte(nil), b...)
	}
	return out
}
