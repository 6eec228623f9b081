package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/louisbranch/checkpointsync/internal/platform/errors"
	"go.uber.org/zap"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// fail writes err as a JSON error body. Errors without a domain code are
// logged and reported as internal errors.
func (h *Handler) fail(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		err = apperrors.Wrap(apperrors.CodePayloadTooLarge, "upload exceeds size limit", err)
	}
	code := apperrors.CodeOf(err)
	message := apperrors.MessageOf(err)
	if code == apperrors.CodeUnknown {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		message = "internal error"
	}
	c.AbortWithStatusJSON(code.HTTPStatus(), errorResponse{
		Success: false,
		Error:   message,
		Code:    string(code),
	})
}

func invalid(message string) error {
	return apperrors.New(apperrors.CodeInvalidArgument, message)
}
