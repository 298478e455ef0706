// Package protocol implements the wire envelope of the remote-control
// protocol: every message is a JSON object {"op": <code>, "d": {...}}
// carried as a single websocket text frame.
package protocol

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

type OpCode int

const (
	// OpServerStopping is a synthetic code for the bare (non-JSON) close
	// notice some servers emit while shutting down. It never appears on
	// the wire as an envelope.
	OpServerStopping OpCode = -1

	OpHello           OpCode = 0
	OpIdentify        OpCode = 1
	OpIdentified      OpCode = 2
	OpReidentify      OpCode = 3
	OpEvent           OpCode = 5
	OpRequest         OpCode = 6
	OpRequestResponse OpCode = 7
)

// RPCVersion is the protocol revision this client speaks.
const RPCVersion = 1

// serverStoppingText is sent by the remote as a plain text frame right
// before it closes the socket.
const serverStoppingText = "Server stopping"

var ErrMalformed = errors.New("malformed frame")

type Frame struct {
	Op   OpCode          `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
}

// Encode wraps a payload in the wire envelope.
func Encode(op OpCode, d any) ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode op %d payload: %w", op, err)
	}
	return json.Marshal(Frame{Op: op, Data: data})
}

// Decode parses a raw text frame into its envelope. The payload stays
// opaque; callers unmarshal it according to the opcode. The special
// "Server stopping" text decodes to a synthetic OpServerStopping frame
// instead of a parse failure.
func Decode(raw []byte) (Frame, error) {
	if string(raw) == serverStoppingText {
		return Frame{Op: OpServerStopping}, nil
	}

	var env struct {
		Op   *OpCode         `json:"op"`
		Data json.RawMessage `json:"d"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Op == nil {
		return Frame{}, fmt.Errorf("%w: missing op discriminator", ErrMalformed)
	}

	return Frame{Op: *env.Op, Data: env.Data}, nil
}

// Hello is the greeting the remote sends immediately after the socket
// opens. Authentication is only present when the remote requires it.
type Hello struct {
	ServerVersion  string          `json:"serverVersion"`
	RPCVersion     int             `json:"rpcVersion"`
	Authentication *Authentication `json:"authentication,omitempty"`
}

type Authentication struct {
	Challenge string `json:"challenge"`
	Salt      string `json:"salt"`
}

// Identify is the client's answer to Hello.
type Identify struct {
	RPCVersion         int    `json:"rpcVersion"`
	Authentication     string `json:"authentication,omitempty"`
	EventSubscriptions uint32 `json:"eventSubscriptions"`
}

// Identified acknowledges an Identify or Reidentify.
type Identified struct {
	NegotiatedRPCVersion int `json:"negotiatedRpcVersion"`
}

// Reidentify updates session parameters after the handshake, currently
// only the event subscription bitmask.
type Reidentify struct {
	EventSubscriptions uint32 `json:"eventSubscriptions"`
}

type Request struct {
	ID   string          `json:"requestId"`
	Type string          `json:"requestType"`
	Data json.RawMessage `json:"requestData,omitempty"`
}

type Status struct {
	Result  bool   `json:"result"`
	Code    int    `json:"code"`
	Comment string `json:"comment,omitempty"`
}

type RequestResponse struct {
	ID     string          `json:"requestId"`
	Type   string          `json:"requestType"`
	Status Status          `json:"requestStatus"`
	Data   json.RawMessage `json:"responseData,omitempty"`
}

type Event struct {
	Type   string          `json:"eventType"`
	Intent uint32          `json:"eventIntent,omitempty"`
	Data   json.RawMessage `json:"eventData,omitempty"`
}

// AuthResponse computes the challenge answer sent in Identify:
// base64(sha256(base64(sha256(password + salt)) + challenge)).
func AuthResponse(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	encoded := base64.StdEncoding.EncodeToString(secret[:])

	answer := sha256.Sum256([]byte(encoded + challenge))
	return base64.StdEncoding.EncodeToString(answer[:])
}
