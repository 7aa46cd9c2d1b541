// Package handler contains the gin HTTP handlers.
package handler

import (
	"github.com/gin-gonic/gin"

	apperrors "github.com/Youssef-Hatem/policylens/internal/pkg/errors"
)

type errorBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func respondError(c *gin.Context, err error) {
	ae := apperrors.FromError(err)
	c.JSON(ae.Code, gin.H{"error": errorBody{
		Code:     ae.Reason,
		Message:  ae.Message,
		Metadata: ae.Metadata,
	}})
}
