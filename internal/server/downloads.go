package server

import (
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Download streams the object a signed token points at. The token is the
// only credential, so the route sits outside the org-scoped group.
func (s *Server) Download(c *gin.Context) {
	key, err := s.signer.Verify(c.Param("token"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	size, err := s.storage.Stat(ctx, key)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	reader, err := s.storage.Open(ctx, key)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer reader.Close()

	headers := c.Writer.Header()
	headers.Set("Content-Type", contentType(key))
	headers.Set("Content-Length", strconv.FormatInt(size, 10))
	headers.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(key)}))
	headers.Set("Cache-Control", "private, no-store")
	c.Status(http.StatusOK)

	if _, err := io.Copy(c.Writer, reader); err != nil {
		s.log.Warn("download.interrupted", zap.String("key", key), zap.Error(err))
	}
}

func contentType(key string) string {
	switch path.Ext(key) {
	case ".zip":
		return "application/zip"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
