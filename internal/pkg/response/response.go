package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/webapi/proxyutil"
)

// apiError carries the business code placed inside the envelope. The
// HTTP status stays 200; clients key off the envelope code.
type apiError struct {
	code    uint32
	message string
}

func (e *apiError) Error() string { return e.message }

func (e *apiError) Code() uint32 { return e.code }

func Success(c *gin.Context, data interface{}) {
	proxyutil.SuccessJson(c, data)
}

func Error(c *gin.Context, code int, message string) {
	proxyutil.FailJson(c, http.StatusOK, &apiError{code: uint32(code), message: message})
}
