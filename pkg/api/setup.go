package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"indi/templates"
)

type setupConfig struct {
	Server ServerConfig
	Site   SiteConfig
	MQTT   MQTTConfig
}

// handleSetup returns a user interface for setting up the client.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := s.loadSetup()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.renderSetupForm(w, cfg, false, "")

	case http.MethodPost:
		cfg, err := parseSetupForm(r)
		if err != nil {
			s.renderSetupForm(w, cfg, false, err.Error())
			return
		}

		s.logger.Infof("Setting config: server %+v, site %+v", cfg.Server, cfg.Site)
		if err := s.saveSetup(cfg); err != nil {
			s.renderSetupForm(w, cfg, false, err.Error())
			return
		}
		s.renderSetupForm(w, cfg, true, "")

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) loadSetup() (setupConfig, error) {
	var cfg setupConfig
	var err error
	if cfg.Server, err = s.store.GetServerConfig(); err != nil {
		return cfg, err
	}
	if cfg.Site, err = s.store.GetSiteConfig(); err != nil {
		return cfg, err
	}
	if cfg.MQTT, err = s.store.GetMQTTConfig(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (s *Server) saveSetup(cfg setupConfig) error {
	return errors.Join(
		s.store.SetServerConfig(cfg.Server),
		s.store.SetSiteConfig(cfg.Site),
		s.store.SetMQTTConfig(cfg.MQTT),
	)
}

func (s *Server) renderSetupForm(w http.ResponseWriter, cfg setupConfig, success bool, err string) {
	data := struct {
		Server  ServerConfig
		Site    SiteConfig
		MQTT    MQTTConfig
		Success bool
		Error   string
	}{cfg.Server, cfg.Site, cfg.MQTT, success, err}

	if err := s.tmpl.ExecuteTemplate(w, templates.SiteSetup, data); err != nil {
		http.Error(w, "Error rendering template", http.StatusInternalServerError)
		s.logger.Errorf("Error rendering template: %v", err)
	}
}

func parseSetupForm(r *http.Request) (setupConfig, error) {
	var cfg setupConfig
	if err := r.ParseForm(); err != nil {
		return cfg, fmt.Errorf("error parsing form: %v", err)
	}

	var errs []error
	parseFloat := func(field string, dst *float64) {
		v, err := strconv.ParseFloat(r.FormValue(field), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %q", field, r.FormValue(field)))
			return
		}
		*dst = v
	}
	parseInt := func(field string, dst *int) {
		v, err := strconv.Atoi(r.FormValue(field))
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %q", field, r.FormValue(field)))
			return
		}
		*dst = v
	}

	cfg.Server.Host = r.FormValue("server-host")
	parseInt("server-port", &cfg.Server.Port)

	parseFloat("latitude", &cfg.Site.Latitude)
	parseFloat("longitude", &cfg.Site.Longitude)
	parseFloat("elevation", &cfg.Site.Elevation)

	cfg.MQTT.Host = r.FormValue("mqtt-host")
	parseInt("mqtt-port", &cfg.MQTT.Port)
	cfg.MQTT.Username = r.FormValue("mqtt-username")
	cfg.MQTT.Password = r.FormValue("mqtt-password")
	cfg.MQTT.TopicRoot = r.FormValue("mqtt-topic-root")

	return cfg, errors.Join(errs...)
}
