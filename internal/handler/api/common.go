package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"khoaugment/internal/models"
)

const maxRequestBody = 1 << 20

func successResponse(c echo.Context, msg string, obj interface{}) error {
	return c.JSON(http.StatusOK, models.APIResponse{
		Status: true,
		Msg:    msg,
		Obj:    obj,
	})
}

func errorResponse(c echo.Context, msg string) error {
	return c.JSON(http.StatusOK, models.APIResponse{
		Status: false,
		Msg:    msg,
		Obj:    nil,
	})
}

func totalPages(total int64, limit int) int {
	if limit <= 0 {
		limit = 50
	}
	pages := int(total) / limit
	if int(total)%limit != 0 {
		pages++
	}
	if pages == 0 {
		pages = 1
	}
	return pages
}

// paginatedNamedResponse returns list payloads as
// { "<key>": [...], "pagination": {...} }.
func paginatedNamedResponse(key string, data interface{}, total int64, page, limit int) map[string]interface{} {
	return map[string]interface{}{
		key: data,
		"pagination": map[string]interface{}{
			"total_record": total,
			"total_pages":  totalPages(total, limit),
			"current_page": page,
			"per_page":     limit,
		},
	}
}

// normalizePage applies the list defaults: 50 per page, at most 1000.
func normalizePage(limit, page int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	if page <= 0 {
		page = 1
	}
	return limit, page
}

// parseBodyAction reads the body once and extracts its "actions" field. GET
// requests may pass the action as a query parameter instead.
func parseBodyAction(c echo.Context) (string, []byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxRequestBody))
	if err != nil {
		return "", nil, err
	}

	var req models.APIRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return "", nil, err
		}
	}
	if req.Actions == "" {
		req.Actions = c.QueryParam("actions")
	}
	c.Set("api_actions", req.Actions) // for logging middleware
	return req.Actions, body, nil
}

// decodeBody decodes the request payload into v; an empty body leaves v as is.
func decodeBody(body []byte, v interface{}) error {
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}
