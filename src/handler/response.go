package handler

import (
	"errors"
	"net/http"

	"github.com/ethaccount/paymaster/src/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// StandardResponse is the envelope of every API response. Code is 0 on
// success and one of apiErrorCodes otherwise.
type StandardResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   interface{} `json:"error,omitempty"`
}

const apiErrorGeneric = 1000

var apiErrorCodes = map[string]int{
	domain.ErrorCodeParameterInvalid.Name:     1001,
	domain.ErrorCodeResourceNotFound.Name:     1002,
	domain.ErrorCodeAuthPermissionDenied.Name: 1003,
	domain.ErrorCodeAuthNotAuthenticated.Name: 1004,
	domain.ErrorCodeInternalProcess.Name:      1005,
	domain.ErrorCodeRemoteProcess.Name:        1006,
	domain.ErrorCodePaymasterReverted.Name:    1007,
}

func respondWithSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, StandardResponse{
		Code:    0,
		Message: "OK",
		Data:    data,
	})
}

// respondWithError aborts the request with err rendered into the envelope.
// Errors that are not a DomainError become INTERNAL_PROCESS.
func respondWithError(c *gin.Context, err error) {
	var domainErr domain.DomainError
	_ = errors.As(err, &domainErr)

	message := domainErr.ClientMsg()
	if message == "" {
		message = err.Error()
	}

	code, ok := apiErrorCodes[domainErr.Name()]
	if !ok {
		code = apiErrorGeneric
	}

	response := StandardResponse{
		Code:    code,
		Message: message,
	}
	if detail := domainErr.Detail(); detail != nil {
		response.Error = detail
	}

	status := domainErr.HTTPStatus()
	event := zerolog.Ctx(c.Request.Context()).Warn()
	if status >= http.StatusInternalServerError {
		event = zerolog.Ctx(c.Request.Context()).Error().Err(err)
	}
	event.
		Str("function", "respondWithError").
		Str("path", c.FullPath()).
		Int("status", status).
		Int("error_code", code).
		Msg(message)

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, response)
}
