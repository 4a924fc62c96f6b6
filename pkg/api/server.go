package api

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"sort"

	"indi/pkg/bridge"
	"indi/pkg/indi"
	"indi/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// Manager is the connection manager the server controls.
// *manager.Manager implements it.
type Manager interface {
	Connect(host string, port int) error
	Disconnect()
	IsConnected() bool
	Connection() *indi.Connection
	Devices() []*indi.Device
	Device(name string) (*indi.Device, bool)
	RefreshAll() error
}

type ServerStatus struct {
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
	State     string `json:"state"`
	Connected bool   `json:"connected"`
	Session   uint64 `json:"session"`
}

type DeviceInfo struct {
	Name       string   `json:"name"`
	Properties []string `json:"properties"`
}

// Server is the HTTP control API of the client: connection management,
// device and property inspection, telescope control and the setup page.
type Server struct {
	manager  Manager
	store    *Store
	tmpl     *template.Template
	gatherer prometheus.Gatherer
	logger   log.FieldLogger
}

// NewServer creates the API server. A nil gatherer disables /metrics.
func NewServer(manager Manager, store *Store, tmpl *template.Template, gatherer prometheus.Gatherer, logger log.FieldLogger) *Server {
	if logger == nil {
		logger = log.WithField("component", "api")
	}
	return &Server{
		manager:  manager,
		store:    store,
		tmpl:     tmpl,
		gatherer: gatherer,
		logger:   logger,
	}
}

func (s *Server) AddRoutes() *http.ServeMux {
	r := http.NewServeMux()

	r.HandleFunc("GET /api/v1/server", s.handleServer)
	r.HandleFunc("PUT /api/v1/connect", s.handleConnect)
	r.HandleFunc("PUT /api/v1/disconnect", s.handleDisconnect)
	r.HandleFunc("PUT /api/v1/refresh", s.handleRefresh)

	r.HandleFunc("GET /api/v1/devices", s.handleDevices)
	r.HandleFunc("GET /api/v1/devices/{device}/properties", s.handleProperties)
	r.HandleFunc("GET /api/v1/devices/{device}/properties/{property}", s.handleProperty)
	r.HandleFunc("PUT /api/v1/devices/{device}/properties/{property}/refresh", s.handleRefreshProperty)

	NewTelescopeHandler(s.manager.Device, s.store, s.logger).RegisterRoutes(r)

	r.HandleFunc("/setup", s.handleSetup)
	if s.gatherer != nil {
		r.Handle("GET /metrics", metrics.Handler(s.gatherer))
	}

	return r
}

func (s *Server) handleServer(w http.ResponseWriter, r *http.Request) {
	status := ServerStatus{State: indi.StateDisconnected.String()}
	if conn := s.manager.Connection(); conn != nil {
		status.Host = conn.Host()
		status.Port = conn.Port()
		status.State = conn.State().String()
		status.Connected = conn.IsConnected()
		status.Session = conn.Session()
	}
	handleResponse(w, status)
}

// handleConnect connects to the host and port in the request, falling back
// to the stored server config for missing values.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.GetServerConfig()
	if err != nil {
		handleError(w, errUnspecified, fmt.Sprintf("failed to get server config: %v", err))
		return
	}

	if host, err := parseRequest(r, "host"); err == nil {
		cfg.Host = host
	}
	port, err := parseIntRequest(r, "port")
	switch {
	case err == nil:
		cfg.Port = port
	case !errors.Is(err, errMissingField):
		handleError(w, errInvalidValue, invalidValue("port", err).Error())
		return
	}

	s.logger.Infof("Connecting to INDI server %s:%d", cfg.Host, cfg.Port)
	if err := s.manager.Connect(cfg.Host, cfg.Port); err != nil {
		s.logger.Errorf("Failed to connect: %v", err)
		handleError(w, errUnspecified, err.Error())
		return
	}
	handleResponse(w, true)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.manager.Disconnect()
	handleResponse(w, true)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.RefreshAll(); err != nil {
		handleError(w, errorCode(err), err.Error())
		return
	}
	handleResponse(w, true)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.manager.Devices()
	infos := make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		infos = append(infos, DeviceInfo{Name: d.Name(), Properties: d.Properties().Names()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	handleResponse(w, infos)
}

func (s *Server) device(w http.ResponseWriter, r *http.Request) (*indi.Device, bool) {
	name := r.PathValue("device")
	d, ok := s.manager.Device(name)
	if !ok {
		http.Error(w, fmt.Sprintf("device %q not found", name), http.StatusNotFound)
	}
	return d, ok
}

func (s *Server) handleProperties(w http.ResponseWriter, r *http.Request) {
	d, ok := s.device(w, r)
	if !ok {
		return
	}

	snapshot := d.Properties().Snapshot()
	props := make([]bridge.PropertyPayload, 0, len(snapshot))
	for name, v := range snapshot {
		props = append(props, bridge.NewPropertyPayload(d.Name(), name, v))
	}
	sort.Slice(props, func(i, j int) bool { return props[i].Name < props[j].Name })
	handleResponse(w, props)
}

func (s *Server) handleProperty(w http.ResponseWriter, r *http.Request) {
	d, ok := s.device(w, r)
	if !ok {
		return
	}

	name := r.PathValue("property")
	v, ok := d.Property(name)
	if !ok {
		http.Error(w, fmt.Sprintf("property %q not found", name), http.StatusNotFound)
		return
	}
	handleResponse(w, bridge.NewPropertyPayload(d.Name(), name, v))
}

func (s *Server) handleRefreshProperty(w http.ResponseWriter, r *http.Request) {
	d, ok := s.device(w, r)
	if !ok {
		return
	}
	if err := d.RefreshProperty(r.PathValue("property")); err != nil {
		handleError(w, errorCode(err), err.Error())
		return
	}
	handleResponse(w, true)
}
