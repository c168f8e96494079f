package httputil

import (
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/vitalhome/syncengine/internal/errors"
)

// Listing endpoints page through queue snapshots with offset/limit query
// parameters. The cap keeps one response from dragging the whole
// operation log across the wire.
const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// ParsePagination reads and validates the offset and limit query
// parameters of a listing request. Missing parameters fall back to
// offset 0 and the default page size.
func ParsePagination(c *gin.Context) (offset, limit int, err error) {
	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		return 0, 0, apperrors.Wrap(apperrors.ErrInvalidInput, "offset must be a non-negative integer")
	}

	limit, err = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit < 1 || limit > maxPageSize {
		return 0, 0, apperrors.Wrapf(apperrors.ErrInvalidInput, "limit must be between 1 and %d", maxPageSize)
	}

	return offset, limit, nil
}
