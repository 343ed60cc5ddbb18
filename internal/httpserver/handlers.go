package httpserver

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

type printerView struct {
	Index            int    `json:"index"`
	Name             string `json:"name"`
	Connected        bool   `json:"connected"`
	Ready            bool   `json:"ready"`
	GcodeState       string `json:"gcode_state,omitempty"`
	PrintStatus      string `json:"print_status,omitempty"`
	Percentage       int    `json:"percentage"`
	CurrentLayer     int    `json:"current_layer"`
	TotalLayers      int    `json:"total_layers"`
	RemainingMinutes int    `json:"remaining_minutes"`
}

func (s *Server) handleLiveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": s.clock.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessTimeout)
	defer cancel()

	for _, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{
				"status":       "unhealthy",
				"failed_check": check.Name,
				"error":        err.Error(),
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handlePrinters(c echo.Context) error {
	out := make([]printerView, 0, s.fleet.Count())
	for i := range s.fleet.Count() {
		v := printerView{Index: i, Name: s.fleet.Name(i)}
		if dev, ok := s.fleet.Printer(i); ok {
			v.Connected = dev.IsConnected()
		}
		if st, ok := s.fleet.ReadyStatus(i); ok {
			v.Ready = true
			v.GcodeState = st.GcodeState.String()
			v.PrintStatus = st.PrintStatus.String()
			v.Percentage = st.Percentage
			v.CurrentLayer = st.CurrentLayer
			v.TotalLayers = st.TotalLayers
			v.RemainingMinutes = st.RemainingMinutes
		}
		out = append(out, v)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, s.sessions.Sessions())
}
