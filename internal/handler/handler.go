package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/caregem-api/internal/middleware"
	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/pkg/errors"
	"github.com/jwalitptl/caregem-api/pkg/httputil"
)

// Helpers shared by the resource handlers. Each answers the request itself
// when it fails and reports false.

// Caller returns the authenticated caller.
func Caller(c *gin.Context) (*model.Caller, bool) {
	caller := middleware.CallerFrom(c)
	if caller == nil {
		httputil.RespondWithError(c, errors.Unauthorized(nil))
		return nil, false
	}
	return caller, true
}

// ID parses the named path parameter as a positive integer id.
func ID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		httputil.RespondWithError(c, errors.BadRequest("invalid "+name, err))
		return 0, false
	}
	return id, true
}

// Kind parses the named path parameter as a user kind.
func Kind(c *gin.Context, name string) (model.UserKind, bool) {
	kind, err := model.ParseUserKind(c.Param(name))
	if err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid "+name, err))
		return model.KindUnknown, false
	}
	return kind, true
}

func BindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		httputil.RespondWithError(c, errors.BadRequest(err.Error(), err))
		return false
	}
	return true
}

// QueryID parses an optional integer query parameter; absent is zero.
func QueryID(c *gin.Context, name string) (int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		httputil.RespondWithError(c, errors.BadRequest("invalid "+name, err))
		return 0, false
	}
	return id, true
}

// QueryTime parses an optional RFC3339 query parameter.
func QueryTime(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid "+name+": expected RFC3339", err))
		return nil, false
	}
	return &t, true
}

func Page(c *gin.Context) (model.Pagination, bool) {
	var p model.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid pagination", err))
		return p, false
	}
	return p.Normalize(), true
}
