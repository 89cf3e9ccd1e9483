package sandbox

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/teranos/gbvm/basic/transpile"
)

// Pooled workers talk CBOR over their stdin and stdout: one Request item
// in, one Response item out.

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("sandbox: CBOR encoder initialization failed: " + err.Error())
	}

	// Script values decode into the same shapes encoding/json produces.
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("sandbox: CBOR decoder initialization failed: " + err.Error())
	}
}

// Request asks a worker to run one invocation.
type Request struct {
	Seq         uint64            `cbor:"seq"`
	Script      string            `cbor:"script"`
	Code        string            `cbor:"code"`
	Fingerprint string            `cbor:"fingerprint"`
	LineMap     transpile.LineMap `cbor:"lineMap"`
	Invocation  *Invocation       `cbor:"invocation"`
}

// Response carries the script's final value or its failure.
type Response struct {
	Seq     uint64   `cbor:"seq"`
	Value   any      `cbor:"value,omitempty"`
	Failure *Failure `cbor:"failure,omitempty"`
}

func newEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

func newDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}
