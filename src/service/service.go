package service

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	hg "github.com/mosaicnetworks/hashgossip/src/hashgraph"
	"github.com/mosaicnetworks/hashgossip/src/metrics"
	"github.com/mosaicnetworks/hashgossip/src/peers"
	"github.com/sirupsen/logrus"
)

// Node is what the service reads from.
type Node interface {
	GetStats() map[string]string
	GetTips() []hg.EventDescriptor
	GetEventWindow() hg.EventWindow
	GetPeers() []*peers.Peer
	Metrics() *metrics.Metrics
}

// TipsResponse is the body of /tips.
type TipsResponse struct {
	Window hg.EventWindow
	Tips   []hg.EventDescriptor
}

// Service ...
type Service struct {
	sync.Mutex

	bindAddress string
	node        Node
	mux         *http.ServeMux
	server      *http.Server
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, n Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		mux:         http.NewServeMux(),
		logger:      logger,
	}

	service.registerHandlers()

	service.server = &http.Server{
		Addr:    bindAddress,
		Handler: service.mux,
	}

	return &service
}

// registerHandlers registers the API handlers on the service's own mux, so
// that several nodes can serve from one process.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering API handlers")
	s.mux.HandleFunc("/stats", s.makeHandler(s.GetStats))
	s.mux.HandleFunc("/tips", s.makeHandler(s.GetTips))
	s.mux.HandleFunc("/peers", s.makeHandler(s.GetPeers))
	s.mux.Handle("/metrics", s.node.Metrics().Handler())
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Handler exposes the mux, mostly for tests.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving API")

	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		s.logger.Error(err)
	}
}

// Close stops the server started by Serve.
func (s *Service) Close() error {
	return s.server.Shutdown(context.Background())
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := s.node.GetStats()

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(stats)
}

// GetTips returns the non-ancient tips and the window they were taken under.
func (s *Service) GetTips(w http.ResponseWriter, r *http.Request) {
	res := TipsResponse{
		Window: s.node.GetEventWindow(),
		Tips:   s.node.GetTips(),
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(res)
}

// GetPeers ...
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(s.node.GetPeers())
}
