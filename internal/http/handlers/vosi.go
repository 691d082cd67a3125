package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lsst-sqre/vo-cutouts-sub000/internal/http/response"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/http/xmlview"
)

// Availability handles GET /availability.
func (h *UWSHandler) Availability(c *gin.Context) {
	avail := h.jobs.Availability(c.Request.Context())
	body, err := xmlview.RenderAvailability(avail)
	if err != nil {
		response.Internal(c, err)
		return
	}
	response.XML(c, http.StatusOK, body)
}

// Capabilities handles GET /capabilities.
func (h *UWSHandler) Capabilities(c *gin.Context) {
	body, err := xmlview.RenderCapabilities(h.baseURL(c))
	if err != nil {
		response.Internal(c, err)
		return
	}
	response.XML(c, http.StatusOK, body)
}
