package http

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/bnema/piplay/internal/adapter/http/middleware"
	"github.com/bnema/piplay/internal/adapter/http/validation"
	"github.com/bnema/piplay/internal/infrastructure/logger"
	"github.com/gorilla/mux"
)

type Server struct {
	router   *mux.Router
	s        Services
	mediaDir string
}

func NewServer(s Services, mediaDir string) *Server {
	srv := &Server{
		router:   mux.NewRouter(),
		s:        s,
		mediaDir: mediaDir,
	}
	srv.registerRoutes()
	return srv
}

func (s *Server) registerRoutes() {
	s.router.Use(middleware.AccessLog)
	s.router.Handle("/ws", NewWebsocketHandler(s.s, NewDispatcher(s.s))).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	s.router.HandleFunc("/media/{name}", s.media).Methods(http.MethodGet, http.MethodHead)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	middleware.SecurityHeaders(s.router).ServeHTTP(w, r)
}

type healthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
	Videos  int    `json:"videos"`
	Server  string `json:"server"`
	YtDlp   string `json:"ytDlp"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:  "ok",
		Clients: s.s.Hub.Len(),
		Videos:  len(s.s.Library.List()),
		Server:  s.s.Versions.Server,
		YtDlp:   s.s.Versions.YtDlp,
	})
}

// media serves rendition files and trick-play indexes to players, with
// range support from http.ServeContent.
func (s *Server) media(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := validation.MediaName(name); err != nil {
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(filepath.Join(s.mediaDir, name))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close() //nolint:errcheck

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", validation.ContentType(name))
	w.Header().Set("Content-Disposition", validation.InlineDisposition(name))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	logger.Debug.Printf("serving %s (%d bytes)", name, info.Size())
	http.ServeContent(w, r, name, info.ModTime(), f)
}
