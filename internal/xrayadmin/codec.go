package xrayadmin

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// jsonCodec lets this package Invoke Xray's gRPC methods with plain Go structs instead of the real
// protobuf-generated message types, which are not vendored here. Xray's actual wire format is protobuf; this codec
// only works against a server willing to negotiate it, which is why it is registered under a private subtype
// ("ponyd-json") rather than overriding the default "proto" codec used elsewhere in the process.
type jsonCodec struct{}

const codecName = "ponyd-json"

func (jsonCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("xrayadmin: marshal request: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("xrayadmin: unmarshal response: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
