package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lsst-sqre/vo-cutouts-sub000/internal/http/middleware"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/http/response"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/services"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/uws"
)

// SyncHandler serves /sync: create, start, wait for completion, and redirect
// to the first result.
type SyncHandler struct {
	handler     *UWSHandler
	syncTimeout time.Duration
}

func NewSyncHandler(handler *UWSHandler, syncTimeout time.Duration) *SyncHandler {
	if syncTimeout <= 0 {
		syncTimeout = 60 * time.Second
	}
	return &SyncHandler{handler: handler, syncTimeout: syncTimeout}
}

// Sync handles GET and POST /sync.
func (h *SyncHandler) Sync(c *gin.Context) {
	pairs, err := requestPairs(c)
	if err != nil {
		response.Usage(c, 0, err)
		return
	}
	control, params := splitControl(pairs, map[string]bool{"runid": true})

	user := middleware.User(c)
	ctx := c.Request.Context()

	job, err := h.handler.jobs.Create(ctx, user, control["runid"], params)
	if err != nil {
		h.handler.respondErr(c, err)
		return
	}
	if _, err := h.handler.jobs.Start(ctx, user, job.ID, middleware.Token(c)); err != nil {
		h.handler.respondErr(c, err)
		return
	}

	job, err = h.handler.jobs.Get(ctx, user, job.ID, services.GetOptions{
		Wait:              h.syncTimeout,
		WaitForCompletion: true,
	})
	if err != nil {
		h.handler.respondErr(c, err)
		return
	}

	switch job.Phase {
	case uws.PhaseCompleted:
		if len(job.Results) == 0 {
			response.Failed(c, 0, errors.New("job completed without results"))
			return
		}
		signed, err := h.handler.signer.SignURL(job.Results[0])
		if err != nil {
			response.Internal(c, err)
			return
		}
		c.Redirect(http.StatusSeeOther, signed)
	case uws.PhaseError:
		response.Failed(c, 0, errors.New(job.Error.Render()))
	default:
		response.Failed(c, 0, errors.New("job did not complete within the sync timeout"))
	}
}
