package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"reflect"
	"testing"

	kerr "ksession/internal/errors"
)

func mustMessage(t *testing.T, opts MessageOptions) *Message {
	t.Helper()
	msg, err := NewMessage(opts)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	return msg
}

func TestNewMessage_Defaults(t *testing.T) {
	msg := mustMessage(t, MessageOptions{
		MsgType: "kernel_info_request",
		Channel: ChannelShell,
		Session: "client-1",
	})

	if msg.ID() == "" {
		t.Error("msg_id should be generated")
	}
	if msg.Header.Version != ProtocolVersion {
		t.Errorf("version = %q, want %q", msg.Header.Version, ProtocolVersion)
	}
	if string(msg.Content) != "{}" || string(msg.Metadata) != "{}" {
		t.Errorf("nil content/metadata should become {}, got %s / %s", msg.Content, msg.Metadata)
	}
	if msg.ParentID() != "" {
		t.Errorf("ParentID = %q, want empty", msg.ParentID())
	}
}

func TestNewMessage_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opts MessageOptions
	}{
		{"missing type", MessageOptions{Channel: ChannelShell}},
		{"bad channel", MessageOptions{MsgType: "x", Channel: "bogus"}},
		{"bad raw content", MessageOptions{MsgType: "x", Channel: ChannelShell, Content: json.RawMessage("{")}},
		{"unmarshalable content", MessageOptions{MsgType: "x", Channel: ChannelShell, Content: make(chan int)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewMessage(tt.opts); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNewReply_LinksParent(t *testing.T) {
	req := mustMessage(t, MessageOptions{MsgType: "execute_request", Channel: ChannelShell, Session: "s", Username: "u"})
	reply, err := NewReply(req, "execute_reply", ChannelShell, map[string]any{"status": "ok"})
	if err != nil {
		t.Fatal(err)
	}
	if reply.ParentID() != req.ID() {
		t.Errorf("ParentID = %q, want %q", reply.ParentID(), req.ID())
	}
	if reply.Header.Session != "s" || reply.Header.Username != "u" {
		t.Errorf("reply should inherit session/username, got %+v", reply.Header)
	}
}

func TestRoundTrip(t *testing.T) {
	parent := Header{MsgID: "parent-1", MsgType: "execute_request"}
	tests := []struct {
		name       string
		opts       MessageOptions
		wantBinary bool
	}{
		{
			name: "text",
			opts: MessageOptions{
				MsgType:  "execute_request",
				Channel:  ChannelShell,
				Session:  "client-1",
				Username: "alice",
				Content:  map[string]any{"code": "print(1)", "silent": false},
				Metadata: map[string]any{"cellId": "c1"},
			},
		},
		{
			name: "binary",
			opts: MessageOptions{
				MsgType: "comm_msg",
				Channel: ChannelShell,
				Content: map[string]any{"comm_id": "c", "data": map[string]any{}},
				Buffers: [][]byte{{0x01, 0x02}, {}, []byte("tail")},
				Parent:  &parent,
			},
			wantBinary: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := mustMessage(t, tt.opts)

			p, err := Serialize(msg)
			if err != nil {
				t.Fatalf("Serialize: %v", err)
			}
			if p.Binary != tt.wantBinary {
				t.Errorf("Binary = %v, want %v", p.Binary, tt.wantBinary)
			}

			got, err := Deserialize(p)
			if err != nil {
				t.Fatalf("Deserialize: %v", err)
			}
			if !reflect.DeepEqual(got, msg) {
				t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, msg)
			}
		})
	}
}

func TestSerializeBinary_Layout(t *testing.T) {
	msg := mustMessage(t, MessageOptions{
		MsgType: "comm_msg",
		Channel: ChannelIOPub,
		Buffers: [][]byte{[]byte("abc")},
	})
	data, err := SerializeBinary(msg)
	if err != nil {
		t.Fatal(err)
	}

	if n := binary.BigEndian.Uint32(data); n != 2 {
		t.Fatalf("nbufs = %d, want 2", n)
	}
	first := binary.BigEndian.Uint32(data[4:])
	second := binary.BigEndian.Uint32(data[8:])
	if first != 12 {
		t.Errorf("first offset = %d, want 12", first)
	}
	if !bytes.Equal(data[second:], []byte("abc")) {
		t.Errorf("trailing buffer = %q, want %q", data[second:], "abc")
	}
	if !json.Valid(data[first:second]) {
		t.Error("JSON body is not valid JSON")
	}
}

func TestDeserialize_Malformed(t *testing.T) {
	valid := mustMessage(t, MessageOptions{MsgType: "status", Channel: ChannelIOPub})
	good, _ := SerializeBinary(valid)

	corrupt := append([]byte(nil), good...)
	binary.BigEndian.PutUint32(corrupt[4:], 2) // offset inside the header

	tests := []struct {
		name string
		p    Payload
	}{
		{"bad json", Text("{not json")},
		{"missing header", Text(`{"header":{},"channel":"shell"}`)},
		{"unknown channel", Text(`{"header":{"msg_id":"1","msg_type":"x"},"channel":"nope"}`)},
		{"short binary", Payload{Data: []byte{0, 0}, Binary: true}},
		{"zero buffers", Payload{Data: []byte{0, 0, 0, 0}, Binary: true}},
		{"huge count", Payload{Data: []byte{0xff, 0xff, 0xff, 0xff, 0, 0, 0, 0}, Binary: true}},
		{"bad offset", Payload{Data: corrupt, Binary: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Deserialize(tt.p)
			if err == nil {
				t.Fatal("expected error")
			}
			var we *kerr.WireError
			if !kerr.As(err, &we) {
				t.Errorf("expected *WireError, got %T", err)
			}
		})
	}
}

func TestSerialize_RejectsInvalid(t *testing.T) {
	msg := &Message{Header: Header{MsgID: "1", MsgType: "x"}, Channel: ChannelShell, Content: json.RawMessage("{")}
	if _, err := Serialize(msg); err == nil {
		t.Fatal("expected error for invalid content")
	}
}

func TestChannel_ExpectsReply(t *testing.T) {
	tests := []struct {
		ch   Channel
		want bool
	}{
		{ChannelShell, true},
		{ChannelControl, true},
		{ChannelIOPub, false},
		{ChannelStdin, false},
	}
	for _, tt := range tests {
		if got := tt.ch.ExpectsReply(); got != tt.want {
			t.Errorf("%s.ExpectsReply() = %v, want %v", tt.ch, got, tt.want)
		}
	}
}
