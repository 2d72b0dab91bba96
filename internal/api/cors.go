package api

import (
	"net/http"

	"github.com/rs/cors"
)

// CorsSettings allows the application origins to call the /v1 surface and
// read the worker source header.
func CorsSettings(allowed []string) *cors.Cors {
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedOrigins:   allowed,
		AllowCredentials: true,
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"X-Worker-Source"},
	})
}
