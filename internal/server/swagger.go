package server

import (
	_ "embed"
	"net/http"

	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger/v2"
)

// @title phishr API
// @version 0.1
// @description URL threat scoring API: lexical analysis, content
// @description classification and reputation fusion.
// @BasePath /

//go:embed swagger.json
var swaggerDoc []byte

// mountSwagger serves the API document and the swagger UI reading it.
func (s *Server) mountSwagger(r chi.Router) {
	r.Get("/swagger/doc.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(swaggerDoc)
	})
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
}
