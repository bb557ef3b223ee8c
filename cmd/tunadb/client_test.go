package main

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestWriteRequestFraming(t *testing.T) {
	var buf bytes.Buffer
	if err := writeRequest(&buf, ".tables"); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 8+len(".tables") {
		t.Fatalf("frame length = %d, want %d", buf.Len(), 8+len(".tables"))
	}
	n := binary.LittleEndian.Uint64(buf.Bytes()[:8])
	if int(n) != len(".tables") {
		t.Fatalf("length prefix = %d, want %d", n, len(".tables"))
	}
}

func TestReadResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(4) // matches server.RespQueryResult's wire value
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], 5)
	buf.Write(lenBuf[:])
	buf.WriteString("hello")

	typ, body, err := readResponse(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if typ != 4 || string(body) != "hello" {
		t.Fatalf("readResponse = (%d, %q)", typ, body)
	}
}

func TestNewRootCommandHasClientSubcommand(t *testing.T) {
	root := newRootCommand()
	cmd, _, err := root.Find([]string{"client"})
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Name() != "client" {
		t.Fatalf("found command %q, want client", cmd.Name())
	}
}
