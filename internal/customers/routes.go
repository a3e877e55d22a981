package customers

import (
	"github.com/go-chi/chi/v5"
)

func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/customers", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{id}", h.Show)
		r.Patch("/{id}", h.Update)
		r.Get("/{id}/status-log", h.CustomerStatusLog)

		r.Get("/{id}/contracts", h.ListContracts)
		r.Post("/{id}/contracts", h.AddContract)
		r.Put("/{id}/contracts/{contractID}", h.UpdateContract)
		r.Delete("/{id}/contracts/{contractID}", h.RemoveContract)
	})
	r.Route("/status", func(r chi.Router) {
		r.Get("/log", h.StatusLog)
		r.Get("/summary", h.Summary)
		r.Get("/drift", h.Drift)
		r.Post("/recompute", h.EnqueueRecompute)
	})
}
