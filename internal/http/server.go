package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	Router *chi.Mux
}

func NewServer(handler *Handler) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/desk/views", func(r chi.Router) {
		r.Post("/", handler.OpenView)
		r.Get("/", handler.ListViews)
		r.Get("/{orderId}", handler.GetView)
		r.Delete("/{orderId}", handler.CloseView)
		r.Post("/{orderId}/actions/{op}", handler.PerformAction)
	})

	return &Server{Router: r}
}
