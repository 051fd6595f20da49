package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/supportchat/widget/backend/internal/gateway"
	chathandler "github.com/supportchat/widget/backend/internal/handler/chat"
	"github.com/supportchat/widget/backend/internal/handler/user"
	middlewarePkg "github.com/supportchat/widget/backend/internal/middleware"
	chatservice "github.com/supportchat/widget/backend/internal/service/chat"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(chatSvc *chatservice.Service, gw *gateway.Gateway, corsOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(corsOrigins))

	userHandler := user.New(chatSvc)
	chatHandler := chathandler.New(chatSvc, gw)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Chatbot API is running"))
	})

	r.Route("/api", func(api chi.Router) {
		userHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
	})

	r.Get("/ws", gw.HandleWS)

	return r
}
