package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/carecoord/carecoord/internal/storage"
)

// RegisterBlobRoutes serves blobs of a store that has no URLs of its own
// (the in-memory store). MinIO hands out presigned URLs instead.
func RegisterBlobRoutes(rg *gin.RouterGroup, blobs storage.BlobStore) {
	rg.GET("/*key", func(c *gin.Context) {
		key := strings.TrimPrefix(c.Param("key"), "/")
		if key == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		rc, err := blobs.Open(c.Request.Context(), key)
		if err != nil {
			if errors.Is(err, storage.ErrBlobNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			writeError(c, err)
			return
		}
		defer rc.Close()
		c.DataFromReader(http.StatusOK, -1, "application/octet-stream", rc, nil)
	})
}
