// Package server is the network boundary of the database: a framed TCP
// listener driving an engine.Engine, plus an HTTP debug mux carrying a
// "show me what's running" surface on the same port. A request is the raw
// query/command text; a response is a type discriminator byte followed by
// a u64 length prefix and that many body bytes.
//
// Request framing is symmetric with the response side (a u64 length
// prefix ahead of the text): TCP does not preserve write() boundaries, so
// framing both directions is the only way to keep "one send is one
// message" true over a real socket.
package server

import (
	"encoding/binary"
	"io"

	"github.com/pingcap/errors"
)

// ResponseType is the wire discriminator byte placed ahead of every
// response frame.
type ResponseType byte

const (
	RespSuccess ResponseType = iota
	RespError
	RespConnectionClosed
	RespGetConfiguration
	RespQueryResult
	RespLogicalPlan
	RespTaskGraph
	RespDataflowGraph
	RespPerformanceCounter
	RespTaskLoad
	RespTaskTrace
	RespFlounderCode
	RespAssemblyCode
	RespSampleAssembly
	RespSampleOperators
	RespSampleMemory
	RespSampleMemoryHistory
	RespDRAMBandwidth
	RespTimes
)

// writeFrame writes a type byte, a u64 body length, then body to w.
func writeFrame(w io.Writer, typ ResponseType, body []byte) error {
	var header [9]byte
	header[0] = byte(typ)
	binary.LittleEndian.PutUint64(header[1:], uint64(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return errors.Annotate(err, "server: writing frame header")
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return errors.Annotate(err, "server: writing frame body")
		}
	}
	return nil
}

// readRequest reads one u64-length-prefixed request off r and returns its
// text.
func readRequest(r io.Reader) (string, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint64(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return "", errors.Annotate(err, "server: reading request body")
	}
	return string(body), nil
}
