package sink

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/diylxy/uvc-gadget-multi-planar/internal/health"
)

// NewPreviewRouter serves the preview page at /, the frame websocket at
// /stream and the health summary at /healthz.
func NewPreviewRouter(hub *Hub, mon *health.Monitor) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/", func(ctx *gin.Context) {
		ctx.Data(http.StatusOK, "text/html; charset=utf-8", []byte(previewPage))
	})
	router.GET("/stream", func(ctx *gin.Context) {
		if !ctx.IsWebsocket() {
			ctx.AbortWithStatus(http.StatusBadRequest)
			return
		}
		hub.ServeHTTP(ctx.Writer, ctx.Request)
	})
	router.GET("/healthz", func(ctx *gin.Context) {
		status := http.StatusOK
		if mon.Overall() == health.Unhealthy {
			status = http.StatusServiceUnavailable
		}
		ctx.JSON(status, mon.Summary())
	})
	return router
}

const previewPage = `<!doctype html>
<html><head><title>uvc-gadget preview</title></head>
<body style="margin:0;background:#111">
<img id="frame" style="display:block;margin:auto;max-width:100%">
<script>
const img = document.getElementById("frame");
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/stream");
ws.binaryType = "blob";
ws.onmessage = (ev) => {
  const url = URL.createObjectURL(ev.data);
  img.onload = () => URL.revokeObjectURL(url);
  img.src = url;
};
</script>
</body></html>
`
