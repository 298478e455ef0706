package remote

import (
	"encoding/json"
	"fmt"

	"github.com/kleeedolinux/remote.go/remote/protocol"
	"github.com/kleeedolinux/remote.go/remote/transport"
)

// runHandshake drives the connect-time exchange on a freshly dialed
// socket: read the greeting, answer an authentication challenge if one
// is present, send Identify and wait for the acknowledgement. Any
// malformed or unexpected frame inside this window is fatal to the
// connect attempt. The caller is responsible for bounding the exchange
// with a deadline and for closing the socket on failure.
func (c *Client) runHandshake(conn transport.Transport) (protocol.Identified, error) {
	fail := func(stage string, err error) (protocol.Identified, error) {
		return protocol.Identified{}, &HandshakeError{Stage: stage, Err: err}
	}

	frame, err := readFrame(conn)
	if err != nil {
		return fail("greeting", err)
	}
	if frame.Op != protocol.OpHello {
		return fail("greeting", fmt.Errorf("expected greeting, got op %d", frame.Op))
	}

	var hello protocol.Hello
	if err := json.Unmarshal(frame.Data, &hello); err != nil {
		return fail("greeting", fmt.Errorf("%w: %v", protocol.ErrMalformed, err))
	}

	c.log.Debug().
		Str("serverVersion", hello.ServerVersion).
		Int("rpcVersion", hello.RPCVersion).
		Bool("authRequired", hello.Authentication != nil).
		Msg("received greeting")

	// A remote older than our protocol revision cannot negotiate up;
	// bail before identifying.
	if hello.RPCVersion < protocol.RPCVersion {
		return fail("greeting", fmt.Errorf("%w: remote speaks version %d, need %d",
			ErrVersionMismatch, hello.RPCVersion, protocol.RPCVersion))
	}

	identify := protocol.Identify{
		RPCVersion:         protocol.RPCVersion,
		EventSubscriptions: c.subs.Load(),
	}

	authenticated := false
	if hello.Authentication != nil {
		if c.cfg.Password == "" {
			return fail("identify", ErrAuthenticationRequired)
		}
		identify.Authentication = protocol.AuthResponse(
			c.cfg.Password, hello.Authentication.Salt, hello.Authentication.Challenge)
		authenticated = true
	}

	raw, err := protocol.Encode(protocol.OpIdentify, identify)
	if err != nil {
		return fail("identify", err)
	}
	if err := conn.Send(raw); err != nil {
		return fail("identify", err)
	}

	c.state.Store(int32(StateIdentifying))

	frame, err = readFrame(conn)
	if err != nil {
		// A remote that rejects the auth answer closes the socket
		// instead of acknowledging.
		if authenticated {
			return fail("ack", ErrAuthenticationFailed)
		}
		return fail("ack", err)
	}
	if frame.Op != protocol.OpIdentified {
		if frame.Op == protocol.OpServerStopping && authenticated {
			return fail("ack", ErrAuthenticationFailed)
		}
		return fail("ack", fmt.Errorf("expected identify ack, got op %d", frame.Op))
	}

	var identified protocol.Identified
	if err := json.Unmarshal(frame.Data, &identified); err != nil {
		return fail("ack", fmt.Errorf("%w: %v", protocol.ErrMalformed, err))
	}

	if identified.NegotiatedRPCVersion != protocol.RPCVersion {
		return fail("ack", fmt.Errorf("%w: remote negotiated version %d, need %d",
			ErrVersionMismatch, identified.NegotiatedRPCVersion, protocol.RPCVersion))
	}

	return identified, nil
}

func readFrame(conn transport.Transport) (protocol.Frame, error) {
	raw, err := conn.Receive()
	if err != nil {
		return protocol.Frame{}, err
	}
	return protocol.Decode(raw)
}
