package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/latticerun/lattice/affinity"
	"github.com/latticerun/lattice/chunk"
	"github.com/latticerun/lattice/errors"
	"github.com/latticerun/lattice/log"
	"github.com/latticerun/lattice/thunk"
	"github.com/latticerun/lattice/values"
)

// funcs is the process-wide registry of named Thunk functions usable
// over the REST transport (spec §4.5): since a Func closure cannot be
// marshaled across a wire, a REST-backed Thunk must set Ident to a
// name previously registered with RegisterFunc on every worker
// process, and the client sends only that name.
var (
	funcsMu sync.Mutex
	funcs   = map[string]thunk.Func{}
)

// RegisterFunc installs f under name so that RESTServer can look it up
// by name when servicing a do_task request whose originating Thunk's
// Ident is name. Call it from an init function in the same binary that
// builds the corresponding Computations.
func RegisterFunc(name string, f thunk.Func) {
	funcsMu.Lock()
	defer funcsMu.Unlock()
	funcs[name] = f
}

func lookupFunc(name string) (thunk.Func, bool) {
	funcsMu.Lock()
	defer funcsMu.Unlock()
	f, ok := funcs[name]
	return f, ok
}

// wireTask is the JSON transport form of a TaskRequest. Each Data
// entry is the raw JSON encoding of an input's value: RESTClient
// resolves AbstractChunk inputs via Move before sending, so only
// their values, not chunk references, go over the wire.
type wireTask struct {
	ThunkID    uint64            `json:"thunk_id"`
	FuncName   string            `json:"func_name"`
	Data       []json.RawMessage `json:"data"`
	SendResult bool              `json:"send_result"`
	Persist    bool              `json:"persist"`
}

type wireReply struct {
	WorkerID string          `json:"worker_id"`
	ThunkID  uint64          `json:"thunk_id"`
	Value    json.RawMessage `json:"value,omitempty"`
	Chunk    *wireChunk      `json:"chunk,omitempty"`
	Err      string          `json:"err,omitempty"`
}

type wireChunk struct {
	Worker string          `json:"worker"`
	Value  json.RawMessage `json:"value"`
	Bytes  int64           `json:"bytes"`
}

// RESTClient is a Worker that dispatches do_task over HTTP, grounded
// in the teacher's rest.Client/ClientCall pattern but specialized to
// lattice's single do_task/move/free endpoints rather than a general
// resource tree.
type RESTClient struct {
	id     affinity.Worker
	base   *url.URL
	client *http.Client
	Log    *log.Logger
}

// NewRESTClient returns a client addressing the worker serving at
// base, identified as id for affinity purposes.
func NewRESTClient(id affinity.Worker, base *url.URL, hc *http.Client) *RESTClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &RESTClient{id: id, base: base, client: hc, Log: log.Std}
}

func (c *RESTClient) ID() affinity.Worker { return c.id }

func (c *RESTClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.E("rest", errors.Invalid, err)
		}
		rdr = bytes.NewReader(b)
	}
	u := c.base.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return errors.E("rest", errors.Net, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return errors.E("rest", errors.Net, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return errors.E("rest", errors.Net, errors.Errorf("%s: %s: %s", method, path, string(b)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Move fetches x: plain values round-trip as JSON; AbstractChunks are
// fetched from the server's /chunk/<digest> endpoint.
func (c *RESTClient) Move(ctx context.Context, dst affinity.Worker, x thunk.Input) (values.T, error) {
	ac, ok := x.(chunk.AbstractChunk)
	if !ok {
		return x, nil
	}
	var wc wireChunk
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/chunk/%s", ac.Digest()), nil, &wc); err != nil {
		return nil, errors.E("Move", errors.Net, err)
	}
	var v values.T
	if err := json.Unmarshal(wc.Value, &v); err != nil {
		return nil, errors.E("Move", errors.Net, err)
	}
	return v, nil
}

// DoTask sends req's Thunk (by Ident, per RegisterFunc) and its
// pre-fetched inputs to the server's /do_task endpoint.
func (c *RESTClient) DoTask(ctx context.Context, req TaskRequest) TaskReply {
	if req.Ident == "" {
		return TaskReply{ThunkID: req.ThunkID, Err: errors.Recover(errors.E("do_task", errors.Invalid, errors.New("REST worker requires an Ident registered via worker.RegisterFunc")))}
	}
	data := make([]json.RawMessage, len(req.Data))
	for i, in := range req.Data {
		v, err := c.Move(ctx, c.id, in)
		if err != nil {
			return TaskReply{ThunkID: req.ThunkID, Err: errors.Recover(errors.E("do_task", errors.Net, err))}
		}
		b, err := json.Marshal(v)
		if err != nil {
			return TaskReply{ThunkID: req.ThunkID, Err: errors.Recover(errors.E("do_task", errors.Invalid, err))}
		}
		data[i] = b
	}
	wt := wireTask{ThunkID: req.ThunkID, FuncName: req.Ident, Data: data, SendResult: req.SendResult, Persist: req.Persist}
	var wr wireReply
	if err := c.do(ctx, http.MethodPost, "/do_task", wt, &wr); err != nil {
		return TaskReply{ThunkID: req.ThunkID, Err: errors.Recover(errors.E("do_task", errors.Net, err))}
	}
	reply := TaskReply{WorkerID: affinity.Worker(wr.WorkerID), ThunkID: wr.ThunkID}
	if wr.Err != "" {
		reply.Err = errors.Recover(errors.E("do_task", errors.Eval, errors.New(wr.Err)))
		return reply
	}
	if wr.Value != nil {
		_ = json.Unmarshal(wr.Value, &reply.Value)
	}
	if wr.Chunk != nil {
		var v values.T
		_ = json.Unmarshal(wr.Chunk.Value, &v)
		reply.Chunk = chunk.NewChunk(affinity.Worker(wr.Chunk.Worker), v, wr.Chunk.Bytes)
	}
	return reply
}

// Unrelease asks the server whether it still holds c.
func (c *RESTClient) Unrelease(ctx context.Context, ac chunk.AbstractChunk) bool {
	var ok struct {
		OK bool `json:"ok"`
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/unrelease/%s", ac.Digest()), nil, &ok); err != nil {
		return false
	}
	return ok.OK
}

// Free asks the server to release c.
func (c *RESTClient) Free(ctx context.Context, ac chunk.AbstractChunk, force, cache bool) error {
	body := struct {
		Force bool `json:"force"`
		Cache bool `json:"cache"`
	}{force, cache}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/free/%s", ac.Digest()), body, nil)
}
