// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package ghfake is an in-memory GitHub REST server for tests. It covers the
// contents, git refs, pulls and issues endpoints the bot uses.
package ghfake

import (
	"crypto/sha1" //nolint:gosec // git object ids
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-github/v75/github"
)

// Server is a fake GitHub. Create one with New.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	repos    map[string]*repo
	failures map[string][]int
	calls    []string
	commits  int

	PullRequests []*github.NewPullRequest
	Comments     []Comment
	Issues       []*github.IssueRequest
	Writes       []Write
}

// Comment is an issue or pull request comment the server received.
type Comment struct {
	Repo   string
	Number int
	Body   string
}

// Write is a contents PUT the server accepted.
type Write struct {
	Repo    string
	Path    string
	Branch  string
	Message string
	Update  bool
}

type repo struct {
	defaultBranch string
	// branch -> head commit
	heads map[string]string
	// branch -> path -> content
	files map[string]map[string]string
	pulls int
}

// New starts a fake GitHub that is shut down when the test ends.
func New(t *testing.T) *Server {
	t.Helper()
	s := &Server{
		repos:    make(map[string]*repo),
		failures: make(map[string][]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/{owner}/{repo}", s.getRepo)
	mux.HandleFunc("GET /api/v3/repos/{owner}/{repo}/contents/{path...}", s.getContents)
	mux.HandleFunc("PUT /api/v3/repos/{owner}/{repo}/contents/{path...}", s.putContents)
	mux.HandleFunc("GET /api/v3/repos/{owner}/{repo}/git/ref/{ref...}", s.getRef)
	mux.HandleFunc("POST /api/v3/repos/{owner}/{repo}/git/refs", s.createRef)
	mux.HandleFunc("POST /api/v3/repos/{owner}/{repo}/pulls", s.createPull)
	mux.HandleFunc("POST /api/v3/repos/{owner}/{repo}/issues", s.createIssue)
	mux.HandleFunc("POST /api/v3/repos/{owner}/{repo}/issues/{number}/comments", s.createComment)
	s.Server = httptest.NewServer(s.record(mux))
	t.Cleanup(s.Close)
	return s
}

// Client returns a go-github client pointed at the server.
func (s *Server) Client(t *testing.T) *github.Client {
	t.Helper()
	c, err := github.NewClient(s.Server.Client()).WithEnterpriseURLs(s.URL, s.URL)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// AddRepo creates owner/name with a default branch holding files.
func (s *Server) AddRepo(fullName, defaultBranch string, files map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &repo{
		defaultBranch: defaultBranch,
		heads:         map[string]string{},
		files:         map[string]map[string]string{defaultBranch: {}},
	}
	for p, c := range files {
		r.files[defaultBranch][p] = c
	}
	r.heads[defaultBranch] = s.nextCommit()
	s.repos[fullName] = r
}

// AddBranch adds a branch holding files to an existing repository.
func (s *Server) AddBranch(fullName, branch string, files map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.repos[fullName]
	r.files[branch] = make(map[string]string, len(files))
	for p, c := range files {
		r.files[branch][p] = c
	}
	r.heads[branch] = s.nextCommit()
}

// File returns the content of path on branch.
func (s *Server) File(fullName, branch, p string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.repos[fullName]
	if !ok {
		return "", false
	}
	c, ok := r.files[branch][p]
	return c, ok
}

// Head returns the head commit of branch.
func (s *Server) Head(fullName, branch string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.repos[fullName]; ok {
		return r.heads[branch]
	}
	return ""
}

// Fail makes the next len(codes) requests matching "METHOD /path" answer
// with the given status codes, in order.
func (s *Server) Fail(method, p string, codes ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := method + " " + p
	s.failures[k] = append(s.failures[k], codes...)
}

// Calls lists every request as "METHOD /path".
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// BlobSHA is the git blob id of content.
func BlobSHA(content string) string {
	h := sha1.New() //nolint:gosec
	fmt.Fprintf(h, "blob %d\x00%s", len(content), content)
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		k := r.Method + " " + strings.TrimPrefix(r.URL.Path, "/api/v3")
		s.mu.Lock()
		s.calls = append(s.calls, k)
		codes := s.failures[k]
		if len(codes) > 0 {
			s.failures[k] = codes[1:]
		}
		s.mu.Unlock()
		if len(codes) > 0 {
			writeError(w, codes[0], http.StatusText(codes[0]))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) nextCommit() string {
	s.commits++
	h := sha1.Sum([]byte(fmt.Sprintf("commit %d", s.commits))) //nolint:gosec
	return hex.EncodeToString(h[:])
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) *repo {
	rp, ok := s.repos[r.PathValue("owner")+"/"+r.PathValue("repo")]
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return nil
	}
	return rp
}

func (s *Server) getRepo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rp := s.lookup(w, r)
	if rp == nil {
		return
	}
	writeJSON(w, http.StatusOK, &github.Repository{
		Name:          github.Ptr(r.PathValue("repo")),
		FullName:      github.Ptr(r.PathValue("owner") + "/" + r.PathValue("repo")),
		Owner:         &github.User{Login: github.Ptr(r.PathValue("owner"))},
		DefaultBranch: github.Ptr(rp.defaultBranch),
	})
}

// branch resolves the ref query parameter, a branch name or a head commit.
func (s *Server) branch(rp *repo, r *http.Request) string {
	ref := r.URL.Query().Get("ref")
	if ref == "" {
		return rp.defaultBranch
	}
	for b, head := range rp.heads {
		if head == ref {
			return b
		}
	}
	return strings.TrimPrefix(ref, "refs/heads/")
}

func (s *Server) getContents(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rp := s.lookup(w, r)
	if rp == nil {
		return
	}
	files, ok := rp.files[s.branch(rp, r)]
	if !ok {
		writeError(w, http.StatusNotFound, "No commit found for the ref")
		return
	}
	p := strings.Trim(r.PathValue("path"), "/")

	if c, ok := files[p]; ok {
		writeJSON(w, http.StatusOK, &github.RepositoryContent{
			Type:     github.Ptr("file"),
			Name:     github.Ptr(path.Base(p)),
			Path:     github.Ptr(p),
			SHA:      github.Ptr(BlobSHA(c)),
			Encoding: github.Ptr("base64"),
			Content:  github.Ptr(base64.StdEncoding.EncodeToString([]byte(c))),
		})
		return
	}

	// Directory listing: immediate children of p.
	prefix := ""
	if p != "" {
		prefix = p + "/"
	}
	children := map[string]*github.RepositoryContent{}
	for fp, c := range files {
		rest, ok := strings.CutPrefix(fp, prefix)
		if !ok {
			continue
		}
		name, _, isDir := strings.Cut(rest, "/")
		if isDir {
			children[name] = &github.RepositoryContent{
				Type: github.Ptr("dir"),
				Name: github.Ptr(name),
				Path: github.Ptr(prefix + name),
			}
			continue
		}
		children[name] = &github.RepositoryContent{
			Type: github.Ptr("file"),
			Name: github.Ptr(name),
			Path: github.Ptr(fp),
			SHA:  github.Ptr(BlobSHA(c)),
		}
	}
	if len(children) == 0 && p != "" {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	names := make([]string, 0, len(children))
	for n := range children {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*github.RepositoryContent, 0, len(names))
	for _, n := range names {
		out = append(out, children[n])
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) putContents(w http.ResponseWriter, r *http.Request) {
	var opts github.RepositoryContentFileOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rp := s.lookup(w, r)
	if rp == nil {
		return
	}
	branch := opts.GetBranch()
	if branch == "" {
		branch = rp.defaultBranch
	}
	files, ok := rp.files[branch]
	if !ok {
		writeError(w, http.StatusNotFound, "Branch not found")
		return
	}
	p := r.PathValue("path")
	existing, exists := files[p]
	switch {
	case exists && opts.SHA == nil:
		writeError(w, http.StatusUnprocessableEntity, `Invalid request. "sha" wasn't supplied.`)
		return
	case exists && opts.GetSHA() != BlobSHA(existing):
		writeError(w, http.StatusConflict, fmt.Sprintf("%s does not match %s", p, opts.GetSHA()))
		return
	case !exists && opts.SHA != nil:
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	content := string(opts.Content)
	files[p] = content
	commit := s.nextCommit()
	rp.heads[branch] = commit
	s.Writes = append(s.Writes, Write{
		Repo:    r.PathValue("owner") + "/" + r.PathValue("repo"),
		Path:    p,
		Branch:  branch,
		Message: opts.GetMessage(),
		Update:  exists,
	})

	code := http.StatusCreated
	if exists {
		code = http.StatusOK
	}
	writeJSON(w, code, &github.RepositoryContentResponse{
		Content: &github.RepositoryContent{
			Path: github.Ptr(p),
			SHA:  github.Ptr(BlobSHA(content)),
		},
		Commit: github.Commit{SHA: github.Ptr(commit)},
	})
}

func (s *Server) getRef(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rp := s.lookup(w, r)
	if rp == nil {
		return
	}
	ref := r.PathValue("ref")
	head, ok := rp.heads[strings.TrimPrefix(ref, "heads/")]
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, &github.Reference{
		Ref:    github.Ptr("refs/" + ref),
		Object: &github.GitObject{Type: github.Ptr("commit"), SHA: github.Ptr(head)},
	})
}

func (s *Server) createRef(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rp := s.lookup(w, r)
	if rp == nil {
		return
	}
	branch, ok := strings.CutPrefix(body.Ref, "refs/heads/")
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "Reference name must start with refs/")
		return
	}
	if _, exists := rp.heads[branch]; exists {
		writeError(w, http.StatusUnprocessableEntity, "Reference already exists")
		return
	}
	var from map[string]string
	for b, h := range rp.heads {
		if h == body.SHA {
			from = rp.files[b]
			break
		}
	}
	if from == nil {
		writeError(w, http.StatusUnprocessableEntity, "Object does not exist")
		return
	}
	files := make(map[string]string, len(from))
	for p, c := range from {
		files[p] = c
	}
	rp.files[branch] = files
	rp.heads[branch] = body.SHA
	writeJSON(w, http.StatusCreated, &github.Reference{
		Ref:    github.Ptr(body.Ref),
		Object: &github.GitObject{Type: github.Ptr("commit"), SHA: github.Ptr(body.SHA)},
	})
}

func (s *Server) createPull(w http.ResponseWriter, r *http.Request) {
	var pr github.NewPullRequest
	if err := json.NewDecoder(r.Body).Decode(&pr); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rp := s.lookup(w, r)
	if rp == nil {
		return
	}
	for _, existing := range s.PullRequests {
		if existing.GetHead() == pr.GetHead() && existing.GetBase() == pr.GetBase() {
			writeError(w, http.StatusUnprocessableEntity, "A pull request already exists for "+pr.GetHead()+".")
			return
		}
	}
	if _, ok := rp.heads[pr.GetHead()]; !ok {
		writeError(w, http.StatusUnprocessableEntity, "Validation Failed")
		return
	}
	s.PullRequests = append(s.PullRequests, &pr)
	rp.pulls++
	writeJSON(w, http.StatusCreated, &github.PullRequest{
		Number:  github.Ptr(rp.pulls),
		Title:   pr.Title,
		HTMLURL: github.Ptr(fmt.Sprintf("%s/%s/%s/pull/%d", s.URL, r.PathValue("owner"), r.PathValue("repo"), rp.pulls)),
	})
}

func (s *Server) createIssue(w http.ResponseWriter, r *http.Request) {
	var ir github.IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&ir); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookup(w, r) == nil {
		return
	}
	s.Issues = append(s.Issues, &ir)
	writeJSON(w, http.StatusCreated, &github.Issue{
		Number: github.Ptr(len(s.Issues)),
		Title:  ir.Title,
	})
}

func (s *Server) createComment(w http.ResponseWriter, r *http.Request) {
	var c github.IssueComment
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var number int
	if _, err := fmt.Sscanf(r.PathValue("number"), "%d", &number); err != nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookup(w, r) == nil {
		return
	}
	s.Comments = append(s.Comments, Comment{
		Repo:   r.PathValue("owner") + "/" + r.PathValue("repo"),
		Number: number,
		Body:   c.GetBody(),
	})
	writeJSON(w, http.StatusCreated, &github.IssueComment{
		ID:   github.Ptr(int64(len(s.Comments))),
		Body: c.Body,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"message": msg})
}
