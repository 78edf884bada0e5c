package api

// setupRoutes registers all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.handleStatus)

		users := v1.Group("/users/:id")
		{
			users.POST("/follows", s.handleFollowWhale)
			users.DELETE("/follows/:whale_id", s.handleUnfollowWhale)
			users.GET("/trades", s.handleListTrades)
			users.GET("/positions", s.handleListPositions)
			users.GET("/portfolio", s.handlePortfolio)
			users.POST("/signals/:signal_id/copy", s.handleCopySignal)
		}

		v1.GET("/signals/:id", s.handleGetSignal)
		v1.POST("/positions/:id/close", s.handleClosePosition)

		admin := v1.Group("/admin")
		{
			admin.GET("/dead-letters", s.handleListDeadLetters)
		}
	}
}
