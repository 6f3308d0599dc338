// Package fetchtest hosts fixture servers for exercising coordinate
// resolution: an httptest server that plays the part of a release channel
// host and a forge serving git ref advertisements and revision archives.
package fetchtest

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"gopkg.in/yaml.v3"
)

// Archive builds a deterministic tar.gz archive whose entries live under a
// single root directory, the layout channel artifacts and forge archives
// use. Identical inputs produce identical bytes.
func Archive(root string, files map[string]string) []byte {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	stamp := time.Unix(0, 0).UTC()
	dirHeader := &tar.Header{
		Name:     root + "/",
		Mode:     0o755,
		ModTime:  stamp,
		Typeflag: tar.TypeDir,
	}
	if err := tw.WriteHeader(dirHeader); err != nil {
		panic(fmt.Sprintf("fetchtest: write dir header: %v", err))
	}
	for _, name := range names {
		body := files[name]
		header := &tar.Header{
			Name:     root + "/" + name,
			Mode:     0o644,
			Size:     int64(len(body)),
			ModTime:  stamp,
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(header); err != nil {
			panic(fmt.Sprintf("fetchtest: write header for %q: %v", name, err))
		}
		if _, err := io.WriteString(tw, body); err != nil {
			panic(fmt.Sprintf("fetchtest: write body for %q: %v", name, err))
		}
	}
	if err := tw.Close(); err != nil {
		panic(fmt.Sprintf("fetchtest: close tar: %v", err))
	}
	if err := gz.Close(); err != nil {
		panic(fmt.Sprintf("fetchtest: close gzip: %v", err))
	}
	return buf.Bytes()
}

// SHA256Hex returns the hex digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type release struct {
	name   string
	data   []byte
	sha256 string
}

type channel struct {
	releases []release // current first
}

type repo struct {
	head     string
	refs     map[string]string
	archives map[string][]byte
}

// Server hosts release channels under /channels/<name> and git
// repositories under /git/<name>.
type Server struct {
	srv *httptest.Server

	mu       sync.Mutex
	channels map[string]*channel
	repos    map[string]*repo

	archiveHits atomic.Int64
}

// NewServer starts an empty fixture server. Callers own Close.
func NewServer() *Server {
	s := &Server{
		channels: make(map[string]*channel),
		repos:    make(map[string]*repo),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Close shuts the server down.
func (s *Server) Close() { s.srv.Close() }

// URL returns the server base URL.
func (s *Server) URL() string { return s.srv.URL }

// ChannelURL returns the index locator for a hosted channel.
func (s *Server) ChannelURL(name string) string { return s.srv.URL + "/channels/" + name }

// RepoURL returns the repository locator for a hosted repo.
func (s *Server) RepoURL(name string) string { return s.srv.URL + "/git/" + name }

// ArchiveHits reports how many artifact downloads the server has served,
// for asserting that cached resolution stays off the network.
func (s *Server) ArchiveHits() int64 { return s.archiveHits.Load() }

// AddChannelRelease publishes a release on a channel and makes it current.
// It returns the archive's content hash.
func (s *Server) AddChannelRelease(channelName, releaseName string, files map[string]string) string {
	data := Archive(releaseName, files)
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.channels[channelName]
	if ch == nil {
		ch = &channel{}
		s.channels[channelName] = ch
	}
	ch.releases = append([]release{{
		name:   releaseName,
		data:   data,
		sha256: SHA256Hex(data),
	}}, ch.releases...)
	return SHA256Hex(data)
}

// AddRepo publishes a repository whose branch points at a synthetic
// revision derived from the tree contents. It returns that revision.
func (s *Server) AddRepo(name, branch string, files map[string]string) string {
	seed := sha256.Sum256(Archive("seed", files))
	rev := hex.EncodeToString(seed[:])[:40]
	data := Archive(name+"-"+rev, files)

	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.repos[name]
	if r == nil {
		r = &repo{refs: make(map[string]string), archives: make(map[string][]byte)}
		s.repos[name] = r
	}
	r.head = rev
	r.refs["refs/heads/"+branch] = rev
	r.archives[rev] = data
	return rev
}

// TagRepo points a tag at an existing revision.
func (s *Server) TagRepo(name, tag, rev string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.repos[name]; r != nil {
		r.refs["refs/tags/"+tag] = rev
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasPrefix(r.URL.Path, "/channels/"):
		s.handleChannel(w, r, strings.TrimPrefix(r.URL.Path, "/channels/"))
	case strings.HasPrefix(r.URL.Path, "/git/"):
		s.handleGit(w, r, strings.TrimPrefix(r.URL.Path, "/git/"))
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request, rest string) {
	name, tail, hasTail := strings.Cut(rest, "/")
	s.mu.Lock()
	ch := s.channels[name]
	s.mu.Unlock()
	if ch == nil {
		http.NotFound(w, r)
		return
	}

	if !hasTail {
		type releaseDoc struct {
			Name   string `yaml:"name"`
			URL    string `yaml:"url"`
			SHA256 string `yaml:"sha256"`
		}
		doc := struct {
			Channel  string       `yaml:"channel"`
			Releases []releaseDoc `yaml:"releases"`
		}{Channel: name}
		for _, rel := range ch.releases {
			doc.Releases = append(doc.Releases, releaseDoc{
				Name:   rel.name,
				URL:    fmt.Sprintf("%s/channels/%s/archive/%s.tar.gz", s.srv.URL, name, rel.name),
				SHA256: rel.sha256,
			})
		}
		data, err := yaml.Marshal(doc)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.Write(data)
		return
	}

	releaseName, ok := strings.CutPrefix(tail, "archive/")
	releaseName = strings.TrimSuffix(releaseName, ".tar.gz")
	if !ok {
		http.NotFound(w, r)
		return
	}
	for _, rel := range ch.releases {
		if rel.name == releaseName {
			s.archiveHits.Add(1)
			w.Header().Set("Content-Type", "application/gzip")
			w.Write(rel.data)
			return
		}
	}
	http.NotFound(w, r)
}

func (s *Server) handleGit(w http.ResponseWriter, r *http.Request, rest string) {
	name, tail, _ := strings.Cut(rest, "/")
	s.mu.Lock()
	rp := s.repos[name]
	s.mu.Unlock()
	if rp == nil {
		http.NotFound(w, r)
		return
	}

	switch {
	case tail == "info/refs" && r.URL.Query().Get("service") == "git-upload-pack":
		w.Header().Set("Content-Type", "application/x-git-upload-pack-advertisement")
		writeAdvertisement(w, rp)
	case strings.HasPrefix(tail, "archive/"):
		rev := strings.TrimSuffix(strings.TrimPrefix(tail, "archive/"), ".tar.gz")
		data, ok := rp.archives[rev]
		if !ok {
			http.NotFound(w, r)
			return
		}
		s.archiveHits.Add(1)
		w.Header().Set("Content-Type", "application/gzip")
		w.Write(data)
	default:
		http.NotFound(w, r)
	}
}

// writeAdvertisement emits a pkt-line ref advertisement: service banner,
// flush, HEAD with a capability list, then the refs in sorted order.
func writeAdvertisement(w io.Writer, rp *repo) {
	pkt := func(line string) {
		fmt.Fprintf(w, "%04x%s", len(line)+4, line)
	}
	pkt("# service=git-upload-pack\n")
	io.WriteString(w, "0000")

	pkt(rp.head + " HEAD\x00symref=HEAD:refs/heads/main agent=fetchtest\n")
	names := make([]string, 0, len(rp.refs))
	for ref := range rp.refs {
		names = append(names, ref)
	}
	sort.Strings(names)
	for _, ref := range names {
		pkt(rp.refs[ref] + " " + ref + "\n")
	}
	io.WriteString(w, "0000")
}
