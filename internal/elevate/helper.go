package elevate

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// Serve runs the elevated helper's accept loop. One JSON request per
// connection, verbs restricted to the closed set plus the shutdown
// control. Returns when asked to shut down or the listener fails.
//
// This function runs with elevated privileges; everything reachable from
// here is the entire privileged surface of the system.
func Serve(l net.Listener, token string) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("helper accept failed: %w", err)
		}
		if shutdown := handleConn(conn, token); shutdown {
			return nil
		}
	}
}

func handleConn(conn net.Conn, token string) (shutdown bool) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(rpcTimeout))

	var req request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		writeResponse(conn, response{Error: "malformed request"})
		return false
	}

	if token != "" && req.Token != token {
		writeResponse(conn, response{Error: "bad session token"})
		return false
	}

	if req.Verb == verbShutdown {
		writeResponse(conn, response{OK: true})
		return true
	}

	verb := Verb(req.Verb)
	if !validVerb(verb) {
		log.Warn().Str("verb", req.Verb).Msg("rejected unknown verb")
		writeResponse(conn, response{Error: fmt.Sprintf("unknown verb %q", req.Verb)})
		return false
	}

	writeResponse(conn, response{OK: true, Results: applyVerb(verb, req.Paths)})
	return false
}

func writeResponse(conn net.Conn, resp response) {
	json.NewEncoder(conn).Encode(&resp) //nolint:errcheck
}

// applyVerb executes a verb per path. Each path gets its own result; a
// failing path never aborts the rest of the batch.
func applyVerb(verb Verb, paths []string) []PathResult {
	results := make([]PathResult, 0, len(paths))
	for _, path := range paths {
		var err error
		switch verb {
		case VerbProtect:
			err = protectPath(path)
		case VerbUnprotect:
			err = unprotectPath(path)
		case VerbDisableTools:
			err = setToolDisabled(path, true)
		case VerbEnableTools:
			err = setToolDisabled(path, false)
		}
		if err != nil {
			results = append(results, PathResult{Path: path, Message: err.Error()})
		} else {
			results = append(results, PathResult{Path: path, OK: true})
		}
	}
	return results
}

// RunOneShot applies a single verb in a short-lived elevated process and
// writes the JSON response to stdout. Used by the degraded
// one-prompt-per-call mode.
func RunOneShot(verbName string, paths []string) int {
	resp, code := runOneShot(verbName, paths)
	json.NewEncoder(os.Stdout).Encode(&resp) //nolint:errcheck
	return code
}

// RunOneShotFile is RunOneShot writing the result to a file instead, for
// platforms where the elevated child has no usable stdout pipe.
func RunOneShotFile(verbName string, paths []string, outPath string) int {
	resp, code := runOneShot(verbName, paths)
	data, err := json.Marshal(&resp)
	if err != nil {
		return 1
	}
	if err := os.WriteFile(outPath, data, 0600); err != nil {
		return 1
	}
	return code
}

func runOneShot(verbName string, paths []string) (response, int) {
	verb := Verb(verbName)
	if !validVerb(verb) {
		return response{Error: fmt.Sprintf("unknown verb %q", verbName)}, 1
	}
	results := applyVerb(verb, paths)
	code := 0
	for _, r := range results {
		if !r.OK {
			code = 1
		}
	}
	return response{OK: true, Results: results}, code
}
