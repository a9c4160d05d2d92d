package laserrpc

import "fmt"

// codec moves Message values through gRPC. It is forced on the server
// and on every client call rather than registered globally, so it never
// shadows the stock protobuf codec in the same process.
type codec struct{}

func (codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(Message)
	if !ok {
		return nil, fmt.Errorf("laserrpc: cannot marshal %T", v)
	}
	return m.Marshal()
}

func (codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(Message)
	if !ok {
		return fmt.Errorf("laserrpc: cannot unmarshal into %T", v)
	}
	return m.Unmarshal(data)
}

// Name is the content-subtype sent by clients. The payloads are protobuf
// wire format, so "proto" keeps the service callable from generated stubs.
func (codec) Name() string { return "proto" }
