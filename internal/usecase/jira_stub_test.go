package usecase

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// newHandlerTransport serves requests in-process, so the stub sees them synchronously.
func newHandlerTransport(handler http.Handler) http.RoundTripper {
	return roundTripFunc(func(r *http.Request) (*http.Response, error) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, r)
		return rr.Result(), nil
	})
}

type stubIssue struct {
	id       int
	key      string
	fields   map[string]any
	workflow string
	comments []string
}

// jiraStub is an in-memory Jira REST v2 server covering the calls the tracker adapter makes.
type jiraStub struct {
	mu         sync.Mutex
	next       int
	issues     map[string]*stubIssue
	calls      []string
	failCreate int
	rejectAuth bool
	unexpected []string
}

func newJiraStub() *jiraStub {
	return &jiraStub{next: 1, issues: map[string]*stubIssue{}}
}

func (s *jiraStub) seed(summary, workflow string, fields map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	is := s.add(fields)
	is.fields["summary"] = summary
	is.workflow = workflow
	return is.key
}

func (s *jiraStub) add(fields map[string]any) *stubIssue {
	is := &stubIssue{id: 10000 + s.next, key: fmt.Sprintf("TMGT-%d", s.next), fields: map[string]any{}, workflow: "To Do"}
	for k, v := range fields {
		is.fields[k] = v
	}
	s.issues[is.key] = is
	s.next++
	return is
}

func (s *jiraStub) issue(key string) *stubIssue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issues[key]
}

func (s *jiraStub) mutations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.calls {
		if !strings.HasPrefix(c, "GET ") {
			out = append(out, c)
		}
	}
	return out
}

func (s *jiraStub) requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *jiraStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	writeJSON := func(status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if v != nil {
			_ = json.NewEncoder(w).Encode(v)
		}
	}
	var body map[string]any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	path := strings.TrimPrefix(r.URL.Path, "/rest/api/2")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case r.Method == http.MethodGet && path == "/search":
		s.calls = append(s.calls, "GET search")
		jql := r.URL.Query().Get("jql")
		var hits []*stubIssue
		for _, is := range s.issues {
			summary, _ := is.fields["summary"].(string)
			if strings.Contains(jql, `summary ~ "\"`+summary+`\""`) {
				hits = append(hits, is)
			}
		}
		sort.Slice(hits, func(i, j int) bool { return hits[i].id > hits[j].id })
		max, _ := strconv.Atoi(r.URL.Query().Get("maxResults"))
		if max > 0 && len(hits) > max {
			hits = hits[:max]
		}
		out := []map[string]any{}
		for _, is := range hits {
			out = append(out, map[string]any{"id": strconv.Itoa(is.id), "key": is.key})
		}
		writeJSON(200, map[string]any{"issues": out})
		return

	case r.Method == http.MethodGet && path == "/myself":
		s.calls = append(s.calls, "GET myself")
		if s.rejectAuth {
			writeJSON(401, map[string]any{"errorMessages": []string{"unauthorized"}})
			return
		}
		writeJSON(200, map[string]any{"name": "bot"})
		return

	case r.Method == http.MethodPost && path == "/issue":
		if s.failCreate > 0 && len(s.issues)+1 >= s.failCreate {
			s.calls = append(s.calls, "POST create (failed)")
			writeJSON(500, map[string]any{"errorMessages": []string{"boom"}})
			return
		}
		fields, _ := body["fields"].(map[string]any)
		is := s.add(fields)
		s.calls = append(s.calls, "POST create "+is.key)
		writeJSON(201, map[string]any{"id": strconv.Itoa(is.id), "key": is.key})
		return

	case len(parts) >= 2 && parts[0] == "issue":
		is, ok := s.issues[parts[1]]
		if !ok {
			writeJSON(404, map[string]any{"errorMessages": []string{"Issue does not exist"}})
			return
		}
		switch {
		case len(parts) == 2 && r.Method == http.MethodGet:
			s.calls = append(s.calls, "GET fetch "+is.key)
			fields := map[string]any{}
			for k, v := range is.fields {
				fields[k] = v
			}
			fields["status"] = map[string]any{"name": is.workflow}
			writeJSON(200, map[string]any{"id": strconv.Itoa(is.id), "key": is.key, "fields": fields})
			return
		case len(parts) == 2 && r.Method == http.MethodPut:
			s.calls = append(s.calls, "PUT update "+is.key)
			fields, _ := body["fields"].(map[string]any)
			for k, v := range fields {
				is.fields[k] = v
			}
			writeJSON(204, nil)
			return
		case len(parts) == 3 && parts[2] == "transitions" && r.Method == http.MethodGet:
			s.calls = append(s.calls, "GET transitions "+is.key)
			writeJSON(200, map[string]any{"transitions": []map[string]any{
				{"id": "11", "name": "Pass", "to": map[string]any{"name": "Passed"}},
				{"id": "21", "name": "Fail", "to": map[string]any{"name": "Failed"}},
				{"id": "31", "name": "Skip", "to": map[string]any{"name": "Skipped"}},
			}})
			return
		case len(parts) == 3 && parts[2] == "transitions" && r.Method == http.MethodPost:
			tr, _ := body["transition"].(map[string]any)
			target := map[any]string{"11": "Passed", "21": "Failed", "31": "Skipped"}[tr["id"]]
			is.workflow = target
			s.calls = append(s.calls, "POST transition "+is.key+" "+target)
			writeJSON(204, nil)
			return
		case len(parts) == 3 && parts[2] == "comment" && r.Method == http.MethodPost:
			text, _ := body["body"].(string)
			is.comments = append(is.comments, text)
			s.calls = append(s.calls, "POST comment "+is.key)
			writeJSON(201, map[string]any{"id": strconv.Itoa(len(is.comments))})
			return
		}
	}

	s.unexpected = append(s.unexpected, r.Method+" "+r.URL.Path)
	w.WriteHeader(500)
	_, _ = w.Write([]byte("unexpected request"))
}
