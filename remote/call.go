package remote

import (
	"context"
	"encoding/json"
)

// Call is the adapter typed request wrappers build on: it issues the
// request and decodes the opaque response payload into T. A payload
// that does not fit T fails with a *DecodeError, which is distinct from
// protocol-level failures like *RequestError or ErrDisconnected.
func Call[T any](ctx context.Context, c *Client, requestType string, data any) (T, error) {
	var out T

	raw, err := c.Request(ctx, requestType, data)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}

	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &DecodeError{RequestType: requestType, Err: err}
	}
	return out, nil
}
