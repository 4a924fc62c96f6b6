package api

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"indi/pkg/drivers/telescope"
	"indi/pkg/indi"

	log "github.com/sirupsen/logrus"
)

// TelescopeHandler exposes the telescope controller of every mount on the
// current connection under /api/v1/telescope/{device}/.
type TelescopeHandler struct {
	devices func(name string) (*indi.Device, bool)
	store   *Store
	logger  log.FieldLogger

	mu     sync.Mutex
	scopes map[string]*telescope.Telescope
}

func NewTelescopeHandler(devices func(name string) (*indi.Device, bool), store *Store, logger log.FieldLogger) *TelescopeHandler {
	return &TelescopeHandler{
		devices: devices,
		store:   store,
		logger:  logger,
		scopes:  make(map[string]*telescope.Telescope),
	}
}

func (h *TelescopeHandler) RegisterRoutes(mux *http.ServeMux) {
	const prefix = "/api/v1/telescope/{device}"

	mux.HandleFunc("GET "+prefix+"/status", h.handleStatus)

	mux.HandleFunc("PUT "+prefix+"/connect", h.action(func(t *telescope.Telescope, r *http.Request) error {
		return t.Connect()
	}))
	mux.HandleFunc("PUT "+prefix+"/disconnect", h.action(func(t *telescope.Telescope, r *http.Request) error {
		return t.Disconnect()
	}))
	mux.HandleFunc("PUT "+prefix+"/goto", h.equatorial((*telescope.Telescope).Goto))
	mux.HandleFunc("PUT "+prefix+"/track", h.equatorial((*telescope.Telescope).Track))
	mux.HandleFunc("PUT "+prefix+"/sync", h.equatorial((*telescope.Telescope).Sync))
	mux.HandleFunc("PUT "+prefix+"/gotohorizontal", h.action(h.gotoHorizontal))
	mux.HandleFunc("PUT "+prefix+"/resetrotation", h.action(func(t *telescope.Telescope, r *http.Request) error {
		return t.ResetRotation()
	}))
	mux.HandleFunc("PUT "+prefix+"/slewrate", h.action(h.setSlewRate))
	mux.HandleFunc("PUT "+prefix+"/rotate", h.action(h.rotate))
	mux.HandleFunc("PUT "+prefix+"/stop", h.action(func(t *telescope.Telescope, r *http.Request) error {
		return t.Stop()
	}))
	mux.HandleFunc("PUT "+prefix+"/abort", h.action(func(t *telescope.Telescope, r *http.Request) error {
		return t.Abort()
	}))
	mux.HandleFunc("PUT "+prefix+"/park", h.action(func(t *telescope.Telescope, r *http.Request) error {
		return t.Park()
	}))
	mux.HandleFunc("PUT "+prefix+"/unpark", h.action(func(t *telescope.Telescope, r *http.Request) error {
		return t.Unpark()
	}))
	mux.HandleFunc("PUT "+prefix+"/location", h.action(h.setLocation))
	mux.HandleFunc("PUT "+prefix+"/time", h.action(func(t *telescope.Telescope, r *http.Request) error {
		return t.SetTime(time.Now())
	}))
}

// telescope returns the controller for the device named in the path. A
// controller lives as long as its device, so alignment survives between
// requests but not across connections.
func (h *TelescopeHandler) telescope(w http.ResponseWriter, r *http.Request) (*telescope.Telescope, bool) {
	name := r.PathValue("device")
	dev, ok := h.devices(name)
	if !ok {
		http.Error(w, fmt.Sprintf("device %q not found", name), http.StatusNotFound)
		return nil, false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.scopes[name]; ok && t.Device() == dev {
		return t, true
	}
	t := telescope.New(dev, h.logger)
	h.scopes[name] = t
	return t, true
}

func (h *TelescopeHandler) action(fn func(*telescope.Telescope, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := h.telescope(w, r)
		if !ok {
			return
		}
		if err := fn(t, r); err != nil {
			h.logger.Warnf("%s %s: %v", t.Name(), r.URL.Path, err)
			handleError(w, errorCode(err), err.Error())
			return
		}
		handleResponse(w, true)
	}
}

func (h *TelescopeHandler) equatorial(fn func(*telescope.Telescope, float64, float64, bool) error) http.HandlerFunc {
	return h.action(func(t *telescope.Telescope, r *http.Request) error {
		ra, err := parseFloatRequest(r, "ra")
		if err != nil {
			return invalidValue("ra", err)
		}
		dec, err := parseFloatRequest(r, "dec")
		if err != nil {
			return invalidValue("dec", err)
		}
		j2000, err := parseBoolRequest(r, "j2000")
		if err != nil && !errors.Is(err, errMissingField) {
			return invalidValue("j2000", err)
		}
		return fn(t, ra, dec, j2000)
	})
}

func (h *TelescopeHandler) gotoHorizontal(t *telescope.Telescope, r *http.Request) error {
	alt, err := parseFloatRequest(r, "alt")
	if err != nil {
		return invalidValue("alt", err)
	}
	az, err := parseFloatRequest(r, "az")
	if err != nil {
		return invalidValue("az", err)
	}
	return t.GotoHorizontal(alt, az)
}

func (h *TelescopeHandler) setSlewRate(t *telescope.Telescope, r *http.Request) error {
	value, err := parseRequest(r, "rate")
	if err != nil {
		return invalidValue("rate", err)
	}
	rate, ok := telescope.ParseSlewRate(value)
	if !ok {
		return invalidValue("rate", fmt.Errorf("unknown slew rate %q", value))
	}
	return t.SetSlewRate(rate)
}

func (h *TelescopeHandler) rotate(t *telescope.Telescope, r *http.Request) error {
	value, err := parseRequest(r, "direction")
	if err != nil {
		return invalidValue("direction", err)
	}
	dir, ok := telescope.ParseDirection(value)
	if !ok {
		return invalidValue("direction", fmt.Errorf("unknown direction %q", value))
	}
	return t.Rotate(dir)
}

// setLocation takes the site from the request, or from the stored site
// config when the request has no latitude.
func (h *TelescopeHandler) setLocation(t *telescope.Telescope, r *http.Request) error {
	lat, err := parseFloatRequest(r, "latitude")
	if errors.Is(err, errMissingField) {
		site, err := h.store.GetSiteConfig()
		if err != nil {
			return fmt.Errorf("failed to get site config: %v", err)
		}
		return t.SetLocation(site.Latitude, site.Longitude, site.Elevation)
	}
	if err != nil {
		return invalidValue("latitude", err)
	}

	long, err := parseFloatRequest(r, "longitude")
	if err != nil {
		return invalidValue("longitude", err)
	}
	elev, err := parseFloatRequest(r, "elevation")
	if err != nil && !errors.Is(err, errMissingField) {
		return invalidValue("elevation", err)
	}
	return t.SetLocation(lat, long, elev)
}

func (h *TelescopeHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	t, ok := h.telescope(w, r)
	if !ok {
		return
	}
	handleResponse(w, t.Status())
}
