package worker

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/grailbio/base/digest"

	"github.com/latticerun/lattice/affinity"
	"github.com/latticerun/lattice/chunk"
	"github.com/latticerun/lattice/log"
	"github.com/latticerun/lattice/thunk"
)

// RESTServer exposes a Local worker's do_task/chunk/unrelease/free
// operations over HTTP, the server half of RESTClient, grounded in
// the teacher's internal/rest server pattern but flattened to this
// protocol's four endpoints rather than a general resource tree.
type RESTServer struct {
	Worker *Local
	Log    *log.Logger
}

// NewRESTServer wraps w for serving.
func NewRESTServer(w *Local) *RESTServer {
	return &RESTServer{Worker: w, Log: log.Std}
}

func (s *RESTServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/do_task" && r.Method == http.MethodPost:
		s.doTask(w, r)
	case strings.HasPrefix(r.URL.Path, "/chunk/") && r.Method == http.MethodGet:
		s.getChunk(w, r)
	case strings.HasPrefix(r.URL.Path, "/unrelease/") && r.Method == http.MethodPost:
		s.unrelease(w, r)
	case strings.HasPrefix(r.URL.Path, "/free/") && r.Method == http.MethodPost:
		s.free(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *RESTServer) doTask(w http.ResponseWriter, r *http.Request) {
	var wt wireTask
	if err := json.NewDecoder(r.Body).Decode(&wt); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f, ok := lookupFunc(wt.FuncName)
	if !ok {
		http.Error(w, "no such function: "+wt.FuncName, http.StatusNotFound)
		return
	}
	data := make([]thunk.Input, len(wt.Data))
	for i, raw := range wt.Data {
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data[i] = v
	}
	reply := s.Worker.DoTask(r.Context(), TaskRequest{
		ThunkID:    wt.ThunkID,
		Ident:      wt.FuncName,
		F:          f,
		Data:       data,
		SendResult: wt.SendResult,
		Persist:    wt.Persist,
	})
	wr := wireReply{WorkerID: string(reply.WorkerID), ThunkID: reply.ThunkID}
	if reply.Err != nil {
		wr.Err = reply.Err.Error()
	} else if reply.Chunk != nil {
		c := reply.Chunk.(*chunk.Chunk)
		v, err := json.Marshal(c.Value)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		wr.Chunk = &wireChunk{Worker: string(c.Worker), Value: v, Bytes: c.Bytes}
	} else {
		v, err := json.Marshal(reply.Value)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		wr.Value = v
	}
	json.NewEncoder(w).Encode(wr)
}

func (s *RESTServer) parseDigest(path, prefix string) (digest.Digest, error) {
	return digest.Parse(strings.TrimPrefix(path, prefix))
}

func (s *RESTServer) getChunk(w http.ResponseWriter, r *http.Request) {
	d, err := s.parseDigest(r.URL.Path, "/chunk/")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.Worker.mu.Lock()
	v, ok := s.Worker.store[d]
	s.Worker.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(wireChunk{Worker: string(s.Worker.id), Value: b})
}

func (s *RESTServer) unrelease(w http.ResponseWriter, r *http.Request) {
	d, err := s.parseDigest(r.URL.Path, "/unrelease/")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ok := s.Worker.Unrelease(r.Context(), stubChunk{d})
	json.NewEncoder(w).Encode(struct {
		OK bool `json:"ok"`
	}{ok})
}

func (s *RESTServer) free(w http.ResponseWriter, r *http.Request) {
	d, err := s.parseDigest(r.URL.Path, "/free/")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var body struct {
		Force bool `json:"force"`
		Cache bool `json:"cache"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Worker.Free(r.Context(), stubChunk{d}, body.Force, body.Cache); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// stubChunk is a minimal AbstractChunk carrying only a digest, used
// when a REST request names a chunk by digest alone; Worker.Unrelease
// and Worker.Free only ever consult the digest.
type stubChunk struct{ d digest.Digest }

func (s stubChunk) Digest() digest.Digest { return s.d }
func (s stubChunk) Affinity() affinity.Set { return nil }
func (s stubChunk) Size() int64            { return -1 }
func (s stubChunk) String() string         { return s.d.String() }
