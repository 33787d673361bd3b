package web

import (
	"github.com/gin-gonic/gin"

	"github.com/fekuna/omnipos-loyalty-service/internal/apperror"
)

type JSONResponse struct {
	Status  bool        `json:"status"`
	Message string      `json:"message"`
	Reason  string      `json:"reason,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func RespondJSON(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(code, JSONResponse{
		Status:  code >= 200 && code < 300,
		Message: message,
		Data:    data,
	})
}

// RespondError writes err using its public message only.
func RespondError(c *gin.Context, err error) {
	code, message := apperror.HTTPStatus(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(code, JSONResponse{
		Status:  false,
		Message: message,
		Reason:  apperror.Reason(err),
	})
}
