package hxlive

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pthm/hxlive/lib/encoding"
)

// ComponentRequest is a decoded component message:
//
//	{
//	  "id": "01hx...",
//	  "key": "",
//	  "epoch": 1700000000000,
//	  "hash": "...",
//	  "data": {"count": 1},
//	  "checksum": "...",
//	  "actionQueue": [{"type": "callMethod", "payload": {"name": "increment"}}]
//	}
type ComponentRequest struct {
	ID       string
	Name     string
	Key      string
	Epoch    int64
	Hash     string
	Data     map[string]any
	Checksum string
	Actions  []Action

	// Body is the raw message, kept for the serial queue.
	Body []byte

	finalSync map[string]any
}

// DecodeRequest parses and verifies a message for the component registered
// as name. Preconditions are checked in order: the body is JSON, data is
// present, the checksum is present and matches data, the id is present and
// every action type is known. No component state is touched.
func (reg *Registry) DecodeRequest(name string, body []byte) (*ComponentRequest, error) {
	return decodeRequest(reg.signer, name, body)
}

func decodeRequest(signer *encoding.Signer, name string, body []byte) (*ComponentRequest, error) {
	raw, err := encoding.LoadsMap(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	data, ok := raw["data"].(map[string]any)
	if !ok {
		return nil, ErrMissingData
	}
	checksum, _ := raw["checksum"].(string)
	if checksum == "" {
		return nil, ErrMissingChecksum
	}
	if !signer.Verify(data, checksum) {
		return nil, ErrChecksumMismatch
	}
	id, _ := raw["id"].(string)
	if id == "" {
		return nil, ErrMissingID
	}

	req := &ComponentRequest{
		ID:        id,
		Name:      name,
		Data:      data,
		Checksum:  checksum,
		Body:      body,
		finalSync: make(map[string]any),
	}
	req.Key, _ = raw["key"].(string)
	req.Hash, _ = raw["hash"].(string)
	if req.Name == "" {
		req.Name, _ = raw["name"].(string)
	}
	req.Epoch = toEpoch(raw["epoch"])

	queue, _ := raw["actionQueue"].([]any)
	for _, item := range queue {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrUnknownAction, item)
		}
		a, err := ParseAction(m)
		if err != nil {
			return nil, err
		}
		if s, ok := a.(*SyncInput); ok {
			req.finalSync[s.Name] = s.Value
		}
		req.Actions = append(req.Actions, a)
	}
	return req, nil
}

func toEpoch(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}

