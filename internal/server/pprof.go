package server

import (
	"net/http/pprof"
	"runtime"

	"github.com/gin-gonic/gin"
)

// mountPprof serves the runtime profiles under /debug/pprof behind the
// trigger key.
func (s *Server) mountPprof(r *gin.Engine) {
	// Mutex and block profiles are empty unless sampling is on.
	runtime.SetMutexProfileFraction(5)
	runtime.SetBlockProfileRate(int(1e6))

	g := r.Group("/debug/pprof", s.requireKey())
	g.GET("/", gin.WrapF(pprof.Index))
	g.GET("/cmdline", gin.WrapF(pprof.Cmdline))
	g.GET("/profile", gin.WrapF(pprof.Profile))
	g.GET("/symbol", gin.WrapF(pprof.Symbol))
	g.POST("/symbol", gin.WrapF(pprof.Symbol))
	g.GET("/trace", gin.WrapF(pprof.Trace))
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		g.GET("/"+name, gin.WrapH(pprof.Handler(name)))
	}
}
