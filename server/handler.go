package server

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pingcap/tunadb/engine"
	"github.com/pingcap/tunadb/errkind"
)

// handle dispatches one request's text against e and returns the response
// to frame back to the client. Dot-commands (.help, .stop, .tables,
// .table, .config, .set cores) are fully implemented; anything else is
// treated as a SQL query, which this module does not parse, and reported
// as RespError carrying an ExecNotImplemented error.
func handle(e *engine.Engine, text string) (ResponseType, []byte) {
	text = strings.TrimSpace(text)
	switch {
	case text == ".stop":
		// Shutting the listener down too is the caller's job (server.go's
		// serveConn): this function only knows about the engine.
		return RespSuccess, nil

	case text == ".tables":
		return handleTables(e)

	case strings.HasPrefix(text, ".table "):
		return handleTable(e, strings.TrimSpace(strings.TrimPrefix(text, ".table ")))

	case text == ".config":
		return handleConfig(e)

	case strings.HasPrefix(text, ".set cores "):
		return handleSetCores(e, strings.TrimSpace(strings.TrimPrefix(text, ".set cores ")))

	case text == "" || text == ".help":
		return RespSuccess, nil

	default:
		err := errkind.Execution(errkind.ExecNotImplemented, "query compilation is not implemented by this server")
		return RespError, []byte(err.Error())
	}
}

func handleTables(e *engine.Engine) (ResponseType, []byte) {
	names := e.DB.Names()
	body, _ := json.Marshal(names)
	return RespQueryResult, body
}

func handleTable(e *engine.Engine, name string) (ResponseType, []byte) {
	tbl, err := e.DB.Lookup(name)
	if err != nil {
		return RespError, []byte(err.Error())
	}
	type column struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}
	cols := make([]column, tbl.Schema().Len())
	for i, c := range tbl.Schema().Columns {
		cols[i] = column{Name: c.Term, Type: c.Type.Kind.String()}
	}
	body, _ := json.Marshal(cols)
	return RespQueryResult, body
}

func handleConfig(e *engine.Engine) (ResponseType, []byte) {
	body, _ := json.Marshal(struct {
		Cores   int    `json:"cores"`
		CoreSet string `json:"core_set"`
	}{Cores: e.NumWorkers(), CoreSet: e.Describe()})
	return RespGetConfiguration, body
}

// handleSetCores reports, rather than silently ignores, that the running
// engine's core set is fixed at startup (runtime.Runtime has no resize
// path): the requested count is only honoured on the next restart, via
// Config.Cores.
func handleSetCores(e *engine.Engine, arg string) (ResponseType, []byte) {
	count, err := strconv.Atoi(arg)
	if err != nil || count <= 0 {
		return RespError, []byte(fmt.Sprintf("server: invalid core count %q", arg))
	}
	e.Config.Cores = count
	msg := fmt.Sprintf("core count will change to %d on next restart; the running engine keeps its current %d workers", count, e.NumWorkers())
	return RespSuccess, []byte(msg)
}
