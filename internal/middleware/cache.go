package middleware

import "github.com/gin-gonic/gin"

// NoStore marks responses as uncacheable. Session payloads carry question
// content and answers and must never sit in a shared cache.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Header("Pragma", "no-cache")
		c.Next()
	}
}
