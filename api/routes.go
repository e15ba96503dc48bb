package api

import (
	"errors"
	"os"
	"strings"
)

func (s *Server) registerRoutes() error {
	if s == nil || s.router == nil {
		return nil
	}

	api := s.router.Group("/api")
	apiKey := strings.TrimSpace(os.Getenv("NUCLEATION_API_KEY"))
	if apiKey != "" {
		api.Use(apiKeyAuthMiddleware(apiKey))
	} else if strings.EqualFold(strings.TrimSpace(os.Getenv("NUCLEATION_DISABLE_AUTH")), "true") {
		// Explicitly allow unauthenticated access.
	} else {
		return errors.New("api: missing auth configuration: set NUCLEATION_API_KEY or set NUCLEATION_DISABLE_AUTH=true")
	}

	api.GET("/health", s.handleHealth)

	api.POST("/experiments", s.handleRunExperiment)
	api.GET("/experiments", s.handleListExperiments)
	api.GET("/experiments/:id", s.handleGetExperiment)
	api.GET("/experiments/:id/metrics", s.handleGetExperimentMetrics)
	api.GET("/experiments/:id/details", s.handleGetExperimentDetails)

	api.GET("/detectors", s.handleListDetectors)
	api.GET("/detectors/:name/history", s.handleGetDetectorHistory)

	api.POST("/detect", s.handleDetect)

	return nil
}
