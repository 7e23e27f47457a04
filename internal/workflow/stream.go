package workflow

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"
)

const (
	EventWorkflowFinished = "workflow_finished"
	EventNodeFinished     = "node_finished"

	endNodeType = "end"
	dataPrefix  = "data:"
	doneMarker  = "[DONE]"

	maxEventSize = 16 * 1024 * 1024
)

type event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type eventData struct {
	NodeType string          `json:"node_type"`
	Outputs  json.RawMessage `json:"outputs"`
}

// outputs reports whether the event data carries an outputs key.
func (e event) outputs() (eventData, bool) {
	if len(e.Data) == 0 {
		return eventData{}, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(e.Data, &fields); err != nil {
		return eventData{}, false
	}
	if _, found := fields["outputs"]; !found {
		return eventData{}, false
	}
	var d eventData
	_ = json.Unmarshal(e.Data, &d)
	return d, true
}

// ParseStream consumes a streamed response made of "data: <json>" lines.
//
// It returns the data of the first workflow_finished event carrying outputs,
// or of the first node_finished event of an end node carrying outputs. Other
// events with outputs are remembered and the most recent one is returned if the
// stream ends without a completion event.
func ParseStream(r io.Reader) ([]byte, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var candidate []byte
	events := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || !bytes.HasPrefix(line, []byte(dataPrefix)) {
			continue
		}

		content := bytes.TrimSpace(line[len(dataPrefix):])
		if string(content) == doneMarker {
			break
		}

		var ev event
		if err := json.Unmarshal(content, &ev); err != nil {
			zap.S().Named("workflow").Warnw("skipping undecodable event", "error", err, "event", truncate(string(content), 200))
			continue
		}
		events++

		data, ok := ev.outputs()
		if !ok {
			continue
		}

		switch {
		case ev.Event == EventWorkflowFinished:
			return clone(ev.Data), nil
		case ev.Event == EventNodeFinished && data.NodeType == endNodeType:
			return clone(ev.Data), nil
		default:
			candidate = clone(ev.Data)
		}
	}
	if err := scanner.Err(); err != nil {
		if candidate != nil {
			zap.S().Named("workflow").Warnw("stream interrupted, using last output candidate", "error", err)
			return candidate, nil
		}
		return nil, fmt.Errorf("reading event stream: %w", err)
	}

	if candidate != nil {
		return candidate, nil
	}

	return nil, NewErrNoOutput(fmt.Sprintf("stream ended after %d events without outputs", events))
}

// ParseDocument handles a blocking response. A document wrapping its result in
// data.outputs yields data, anything else is returned as is for the decoders.
func ParseDocument(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, NewErrNoOutput("empty response body")
	}

	var ev event
	if err := json.Unmarshal(body, &ev); err == nil {
		if _, ok := ev.outputs(); ok {
			return clone(ev.Data), nil
		}
	}

	return body, nil
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
