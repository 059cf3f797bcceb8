package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Tasks
		r.Post("/tasks", h.CreateTask)
		r.Get("/tasks", h.ListTasks)
		r.Get("/tasks/{id}", h.GetTask)
		r.Post("/tasks/{id}/start", h.StartTask)
		r.Post("/tasks/{id}/pause", h.PauseTask)
		r.Post("/tasks/{id}/resume", h.ResumeTask)
		r.Post("/tasks/{id}/cancel", h.CancelTask)
		r.Post("/tasks/{id}/instructions", h.AddInstruction)
		r.Get("/tasks/{id}/events", h.ListTaskEvents)
		r.Get("/tasks/{id}/audit", h.ListTaskAudit)
		r.Get("/tasks/{id}/run", h.GetRunSnapshot)

		// Interactions
		r.Get("/tasks/{id}/interaction", h.GetPendingInteraction)
		r.Post("/tasks/{id}/interactions/{interactionID}/respond", h.RespondInteraction)

		// Patches
		r.Post("/tasks/{id}/patches", h.ProposePatch)
		r.Post("/tasks/{id}/patches/{proposalID}/apply", h.ApplyPatch)
		r.Post("/tasks/{id}/patches/{proposalID}/reject", h.RejectPatch)

		// Event log reads
		r.Get("/events", h.ReadEvents)
		r.Get("/events/{id}", h.GetEvent)
	})
}
