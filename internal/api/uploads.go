package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// uploadImage accepts a multipart image and stores it for a session.
func (h *Handlers) uploadImage(c *gin.Context) {
	sessionID := c.PostForm("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	if h.cfg.Uploads.MaxBytes > 0 && file.Size > h.cfg.Uploads.MaxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds the size limit"})
		return
	}

	img, err := h.images.Save(c.Request.Context(), c, sessionID, file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"public_id": img.PublicID,
		"url":       img.URL,
	})
}

type deleteImageRequest struct {
	PublicID string `json:"public_id" binding:"required"`
}

func (h *Handlers) deleteImage(c *gin.Context) {
	var req deleteImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.images.Delete(c.Request.Context(), req.PublicID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
