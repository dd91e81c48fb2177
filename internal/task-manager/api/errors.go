package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"

	"automation-engine-service/internal/task-manager/apperr"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrInvalidStateForEdit):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrGenerationFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(c *app.RequestContext, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		hlog.Errorf("API: %s %s failed: %v", c.Method(), c.Path(), err)
	}
	c.JSON(status, utils.H{"error": err.Error()})
}

func parseID(c *app.RequestContext) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid ID format"})
		return 0, false
	}
	return uint(id), true
}
