package elevate

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// request is one helper call: a verb from the closed set plus explicit
// paths. There is deliberately no field for free-form command text.
type request struct {
	Verb  string   `json:"verb"`
	Paths []string `json:"paths"`
	Token string   `json:"token,omitempty"`
}

// verbShutdown is a control message asking the session helper to exit.
// It is part of the wire protocol, not of the public verb set.
const verbShutdown = "shutdown"

type response struct {
	OK      bool         `json:"ok"`
	Error   string       `json:"error,omitempty"`
	Results []PathResult `json:"results,omitempty"`
}

const rpcTimeout = 30 * time.Second

// roundTrip sends one request over conn and decodes the response.
func roundTrip(conn net.Conn, token string, verb Verb, paths []string) ([]PathResult, error) {
	conn.SetDeadline(time.Now().Add(rpcTimeout))

	req := request{Verb: string(verb), Paths: paths, Token: token}
	if err := json.NewEncoder(conn).Encode(&req); err != nil {
		return nil, fmt.Errorf("failed to send helper request: %w", err)
	}

	var resp response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to read helper response: %w", err)
	}
	if !resp.OK {
		return resp.Results, fmt.Errorf("helper: %s", resp.Error)
	}
	return resp.Results, nil
}
