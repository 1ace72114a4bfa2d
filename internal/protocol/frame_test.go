package protocol

import (
	"errors"
	"testing"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"discover request", Message{Type: TypeDiscoverReq, Seq: 0}, "DISCOVER_REQ 0"},
		{"discover ack", Message{Type: TypeDiscoverAck, Seq: 7}, "DISCOVER_ACK 7"},
		{"connect with payload", Message{Type: TypeConnectReq, Seq: 1, Payload: []byte(`{"hostname":"h"}`)}, `CONNECT_REQ 1 {"hostname":"h"}`},
		{"keepalive ack", Message{Type: TypeKeepaliveAck, Seq: 12}, "KEEPALIVE_ACK 12"},
		{"error names offender", Message{Type: TypeError, Seq: 3, Payload: []byte("CONNECT_REQ")}, "ERROR 3 CONNECT_REQ"},
		{"large sequence", Message{Type: TypeKeepaliveReq, Seq: 18446744073709551615, Payload: []byte("{}")}, "KEEPALIVE_REQ 18446744073709551615 {}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(Encode(tt.msg)); got != tt.want {
				t.Errorf("Encode(%v) = %q, want %q", tt.msg, got, tt.want)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name        string
		frame       string
		wantType    Type
		wantSeq     uint64
		wantPayload string
	}{
		{"discover request", "DISCOVER_REQ 0", TypeDiscoverReq, 0, ""},
		{"connect request", `CONNECT_REQ 1 {"hostname":"h"}`, TypeConnectReq, 1, `{"hostname":"h"}`},
		{"keepalive request", "KEEPALIVE_REQ 42 {}", TypeKeepaliveReq, 42, "{}"},
		{"error frame", "ERROR 5 KEEPALIVE_REQ", TypeError, 5, "KEEPALIVE_REQ"},
		{"payload with spaces", `CONNECT_REQ 2 {"name":"a b c"}`, TypeConnectReq, 2, `{"name":"a b c"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.frame))
			if err != nil {
				t.Fatalf("Decode(%q) error: %v", tt.frame, err)
			}
			if msg.Type != tt.wantType {
				t.Errorf("Type = %s, want %s", msg.Type, tt.wantType)
			}
			if msg.Seq != tt.wantSeq {
				t.Errorf("Seq = %d, want %d", msg.Seq, tt.wantSeq)
			}
			if string(msg.Payload) != tt.wantPayload {
				t.Errorf("Payload = %q, want %q", msg.Payload, tt.wantPayload)
			}
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"empty", ""},
		{"unknown type", "HELLO 1"},
		{"lowercase type", "discover_req 1"},
		{"missing sequence", "DISCOVER_REQ"},
		{"non-numeric sequence", "DISCOVER_REQ abc"},
		{"negative sequence", "DISCOVER_REQ -1"},
		{"float sequence", "CONNECT_ACK 1.5"},
		{"pass-through text", "hello world"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.frame))
			if !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("Decode(%q) error = %v, want ErrMalformedFrame", tt.frame, err)
			}
		})
	}
}

func TestDecode_EncodeRoundTrip(t *testing.T) {
	msg := Message{Type: TypeConnectReq, Seq: 9, Payload: []byte(`{"hostname":"studio-1"}`)}
	got, err := Decode(Encode(msg))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if got.Type != msg.Type || got.Seq != msg.Seq || string(got.Payload) != string(msg.Payload) {
		t.Errorf("round trip = %v, want %v", got, msg)
	}
}

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantKey string
		wantVal any
		empty   bool
	}{
		{"object", `{"hostname":"h"}`, "hostname", "h", false},
		{"empty object", "{}", "", nil, true},
		{"empty input", "", "", nil, true},
		{"malformed falls back to empty", `{hostname}`, "", nil, true},
		{"non-object falls back to empty", `[1,2]`, "", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePayload([]byte(tt.raw))
			if got == nil {
				t.Fatal("ParsePayload returned nil")
			}
			if tt.empty {
				if len(got) != 0 {
					t.Errorf("ParsePayload(%q) = %v, want empty object", tt.raw, got)
				}
				return
			}
			if got[tt.wantKey] != tt.wantVal {
				t.Errorf("ParsePayload(%q)[%s] = %v, want %v", tt.raw, tt.wantKey, got[tt.wantKey], tt.wantVal)
			}
		})
	}
}

func TestKnownType(t *testing.T) {
	for _, token := range []string{
		"DISCOVER_REQ", "DISCOVER_ACK", "CONNECT_REQ", "CONNECT_ACK",
		"KEEPALIVE_REQ", "KEEPALIVE_ACK", "ERROR",
	} {
		if !KnownType(token) {
			t.Errorf("KnownType(%q) = false, want true", token)
		}
	}
	for _, token := range []string{"", "PING", "error", "DISCOVER"} {
		if KnownType(token) {
			t.Errorf("KnownType(%q) = true, want false", token)
		}
	}
}

func TestAckFor(t *testing.T) {
	tests := []struct {
		req  Type
		ack  Type
		ok   bool
	}{
		{TypeDiscoverReq, TypeDiscoverAck, true},
		{TypeConnectReq, TypeConnectAck, true},
		{TypeKeepaliveReq, TypeKeepaliveAck, true},
		{TypeDiscoverAck, "", false},
		{TypeError, "", false},
	}

	for _, tt := range tests {
		ack, ok := AckFor(tt.req)
		if ack != tt.ack || ok != tt.ok {
			t.Errorf("AckFor(%s) = (%s, %v), want (%s, %v)", tt.req, ack, ok, tt.ack, tt.ok)
		}
	}
}

func TestMessageString(t *testing.T) {
	msg := Message{Type: TypeKeepaliveReq, Seq: 3, Payload: []byte("{}")}
	want := "Message{Type=KEEPALIVE_REQ, Seq=3, PayloadLen=2}"
	if got := msg.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	bare := Message{Type: TypeDiscoverAck, Seq: 0}
	want = "Message{Type=DISCOVER_ACK, Seq=0}"
	if got := bare.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
