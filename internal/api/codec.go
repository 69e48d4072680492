// Package api defines the control API shared by the engine and tgfleet-ctl:
// request and response messages, the gRPC service description and a typed
// client. Messages travel as JSON through a registered gRPC codec, so no
// generated code is involved.
package api

import (
	json "github.com/goccy/go-json"
	"google.golang.org/grpc/encoding"
)

// CodecName is the content subtype negotiated by clients and servers.
const CodecName = "json"

type codec struct{}

func (codec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (codec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (codec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(codec{})
}
