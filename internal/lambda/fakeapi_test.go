package lambda

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeInvocation is one queued unit of work served by fakeAPI.
type fakeInvocation struct {
	requestID string
	payload   string
	headers   map[string]string
}

// report is what the runtime posted back for one invocation.
type report struct {
	kind      string // "response" or "error"
	requestID string
	body      string
	errorType string
}

// fakeAPI is an in-memory runtime API. Once the queue is empty the next
// call fails with 500, which ends the loop with a ProtocolError.
type fakeAPI struct {
	t *testing.T

	mu          sync.Mutex
	queue       []fakeInvocation
	events      []string
	reports     []report
	initErrors  []string
	outstanding bool

	reportStatus int
}

func newFakeAPI(t *testing.T, invs ...fakeInvocation) (*fakeAPI, *httptest.Server) {
	f := &fakeAPI{t: t, queue: invs, reportStatus: http.StatusAccepted}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/"+DefaultAPIVersion)
	switch {
	case r.Method == http.MethodGet && path == "/runtime/invocation/next":
		f.events = append(f.events, "next")
		if f.outstanding {
			f.t.Errorf("next invocation requested while a report is outstanding")
		}
		if len(f.queue) == 0 {
			http.Error(w, "no more work", http.StatusInternalServerError)
			return
		}
		inv := f.queue[0]
		f.queue = f.queue[1:]
		if inv.requestID != "" {
			w.Header().Set(HeaderRequestID, inv.requestID)
			f.outstanding = true
		}
		for k, v := range inv.headers {
			w.Header().Set(k, v)
		}
		_, _ = io.WriteString(w, inv.payload)

	case r.Method == http.MethodPost && path == "/runtime/init/error":
		body, _ := io.ReadAll(r.Body)
		f.initErrors = append(f.initErrors, string(body))
		w.WriteHeader(http.StatusAccepted)

	case r.Method == http.MethodPost && strings.HasPrefix(path, "/runtime/invocation/"):
		parts := strings.Split(strings.TrimPrefix(path, "/runtime/invocation/"), "/")
		if len(parts) != 2 {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.events = append(f.events, parts[1]+":"+parts[0])
		f.reports = append(f.reports, report{
			kind:      parts[1],
			requestID: parts[0],
			body:      string(body),
			errorType: r.Header.Get(HeaderFunctionErrorType),
		})
		f.outstanding = false
		w.WriteHeader(f.reportStatus)

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeAPI) snapshot() ([]string, []report) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...), append([]report(nil), f.reports...)
}
