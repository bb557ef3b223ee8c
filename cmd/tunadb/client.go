package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// newClientCommand is the interactive console loop: read a line from
// stdin, send it as a framed request, print the framed response. Response
// bodies are printed as raw text/JSON; table rendering would depend on a
// SQL layer this module does not have.
func newClientCommand() *cobra.Command {
	var host string
	var port int
	var execute string

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Connect to a running tunadb server.",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := fmt.Sprintf("%s:%d", host, port)
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				return fmt.Errorf("connecting to %s: %w", addr, err)
			}
			defer conn.Close()

			fmt.Printf("Connected to tunadb %s.\n", addr)

			if execute != "" {
				return sendOne(conn, execute)
			}

			fmt.Println("Type 'q' or 'quit' to exit.")
			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("tunadb> ")
				if !scanner.Scan() {
					return nil
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "q" || line == "quit" {
					return nil
				}
				if line == "" {
					continue
				}
				if err := sendOne(conn, line); err != nil {
					return err
				}
			}
		},
	}

	cmd.Flags().StringVar(&host, "host", "localhost", "Host the client should connect to.")
	cmd.Flags().IntVarP(&port, "port", "p", 9090, "Port the client should connect to.")
	cmd.Flags().StringVar(&execute, "execute", "", "Send a single command/query and exit.")
	return cmd
}

func sendOne(conn net.Conn, text string) error {
	if err := writeRequest(conn, text); err != nil {
		return err
	}
	typ, body, err := readResponse(conn)
	if err != nil {
		return err
	}
	if typ == respError {
		fmt.Fprintln(os.Stderr, string(body))
		return nil
	}
	if len(body) > 0 {
		fmt.Println(string(body))
	}
	return nil
}

func writeRequest(w io.Writer, text string) error {
	body := []byte(text)
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// respError mirrors server.RespError's wire value without importing the
// server package, which pulls in cmux/gorilla-mux/prometheus the client
// binary has no use for.
const respError = 1

func readResponse(r io.Reader) (byte, []byte, error) {
	var header [9]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	n := binary.LittleEndian.Uint64(header[1:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return header[0], body, nil
}
