package transport

import (
	"io"

	"github.com/gobwas/ws/wsflate"
	"github.com/klauspost/compress/flate"
)

// Each message is inflated with a fresh window, so both sides are asked not to
// carry context between messages.
var deflateParameters = wsflate.Parameters{
	ServerNoContextTakeover: true,
	ClientNoContextTakeover: true,
}

func newDecompressor(r io.Reader) wsflate.Decompressor {
	return flate.NewReader(r)
}
