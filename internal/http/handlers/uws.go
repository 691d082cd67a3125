package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lsst-sqre/vo-cutouts-sub000/internal/http/middleware"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/http/response"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/http/xmlview"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/platform/logger"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/services"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/uws"
)

// UWSHandler serves the UWS 1.1 job routes.
type UWSHandler struct {
	log        *logger.Logger
	jobs       services.JobService
	signer     services.ResultSigner
	pathPrefix string
}

func NewUWSHandler(log *logger.Logger, jobs services.JobService, signer services.ResultSigner, pathPrefix string) *UWSHandler {
	return &UWSHandler{
		log:        log.With("handler", "UWSHandler"),
		jobs:       jobs,
		signer:     signer,
		pathPrefix: pathPrefix,
	}
}

func (h *UWSHandler) baseURL(c *gin.Context) string {
	scheme := "http"
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if c.Request.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, c.Request.Host, h.pathPrefix)
}

func (h *UWSHandler) jobURL(c *gin.Context, jobID string) string {
	return h.baseURL(c) + "/jobs/" + jobID
}

// respondErr maps service errors onto the protocol's error families.
func (h *UWSHandler) respondErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, uws.ErrUnknownJob):
		response.Usage(c, http.StatusNotFound, err)
	case errors.Is(err, uws.ErrPermissionDenied):
		response.Authorization(c, err)
	case services.IsUsageError(err):
		response.Usage(c, 0, err)
	default:
		h.log.Error("Request failed", "error", err)
		response.Internal(c, err)
	}
}

func (h *UWSHandler) signResults(job *uws.Job) (map[string]string, error) {
	if len(job.Results) == 0 {
		return nil, nil
	}
	signed := make(map[string]string, len(job.Results))
	for _, r := range job.Results {
		u, err := h.signer.SignURL(r)
		if err != nil {
			return nil, err
		}
		signed[r.ResultID] = u
	}
	return signed, nil
}

func (h *UWSHandler) renderJob(c *gin.Context, job *uws.Job) {
	signed, err := h.signResults(job)
	if err != nil {
		h.log.Error("Result signing failed", "job_id", job.ID, "error", err)
		response.Internal(c, err)
		return
	}
	body, err := xmlview.RenderJob(job, signed)
	if err != nil {
		response.Internal(c, err)
		return
	}
	response.XML(c, http.StatusOK, body)
}

// CreateJob handles POST /jobs. Control keys phase and runid are consumed;
// every other form field becomes a job parameter.
func (h *UWSHandler) CreateJob(c *gin.Context) {
	pairs, err := requestPairs(c)
	if err != nil {
		response.Usage(c, 0, err)
		return
	}
	control, params := splitControl(pairs, map[string]bool{"phase": true, "runid": true})

	user := middleware.User(c)
	job, err := h.jobs.Create(c.Request.Context(), user, control["runid"], params)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	if strings.EqualFold(control["phase"], "RUN") {
		if _, err := h.jobs.Start(c.Request.Context(), user, job.ID, middleware.Token(c)); err != nil {
			h.respondErr(c, err)
			return
		}
	}
	c.Redirect(http.StatusSeeOther, h.jobURL(c, job.ID))
}

// ListJobs handles GET /jobs with phase, after, and last filters.
func (h *UWSHandler) ListJobs(c *gin.Context) {
	pairs := decodePairs(c.Request.URL.RawQuery, false)

	var phases []uws.ExecutionPhase
	var after *time.Time
	count := 0
	for _, p := range pairs {
		switch p.Key {
		case "phase":
			phase, err := uws.ParsePhase(strings.ToUpper(p.Value))
			if err != nil {
				response.Usage(c, 0, err)
				return
			}
			phases = append(phases, phase)
		case "after":
			t, err := uws.ParseTimestamp(p.Value)
			if err != nil {
				response.Usage(c, 0, fmt.Errorf("invalid after timestamp %q", p.Value))
				return
			}
			after = &t
		case "last", "count":
			n, err := strconv.Atoi(p.Value)
			if err != nil || n < 0 {
				response.Usage(c, 0, fmt.Errorf("invalid count %q", p.Value))
				return
			}
			count = n
		}
	}

	jobs, err := h.jobs.List(c.Request.Context(), middleware.User(c), phases, after, count)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	body, err := xmlview.RenderJobList(jobs, h.baseURL(c)+"/jobs")
	if err != nil {
		response.Internal(c, err)
		return
	}
	response.XML(c, http.StatusOK, body)
}

// GetJob handles GET /jobs/{id} with optional long-poll (wait, phase).
func (h *UWSHandler) GetJob(c *gin.Context) {
	pairs := decodePairs(c.Request.URL.RawQuery, false)
	opts := services.GetOptions{}
	for _, p := range pairs {
		switch p.Key {
		case "wait":
			secs, err := strconv.Atoi(p.Value)
			if err != nil {
				response.Usage(c, 0, fmt.Errorf("invalid wait %q", p.Value))
				return
			}
			if secs < 0 {
				opts.Wait = -time.Second
			} else {
				opts.Wait = time.Duration(secs) * time.Second
			}
		case "phase":
			phase, err := uws.ParsePhase(strings.ToUpper(p.Value))
			if err != nil {
				response.Usage(c, 0, err)
				return
			}
			opts.WaitPhase = phase
		}
	}

	job, err := h.jobs.Get(c.Request.Context(), middleware.User(c), c.Param("id"), opts)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	h.renderJob(c, job)
}

// DeleteJob handles DELETE /jobs/{id}.
func (h *UWSHandler) DeleteJob(c *gin.Context) {
	if err := h.jobs.Delete(c.Request.Context(), middleware.User(c), c.Param("id")); err != nil {
		h.respondErr(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, h.baseURL(c)+"/jobs")
}

// PostJob handles POST /jobs/{id}, which only supports action=DELETE.
func (h *UWSHandler) PostJob(c *gin.Context) {
	pairs, err := requestPairs(c)
	if err != nil {
		response.Usage(c, 0, err)
		return
	}
	control, _ := splitControl(pairs, map[string]bool{"action": true})
	if !strings.EqualFold(control["action"], "DELETE") {
		response.Usage(c, 0, fmt.Errorf("unsupported action %q", control["action"]))
		return
	}
	h.DeleteJob(c)
}

// PostPhase handles POST /jobs/{id}/phase with RUN or ABORT.
func (h *UWSHandler) PostPhase(c *gin.Context) {
	pairs, err := requestPairs(c)
	if err != nil {
		response.Usage(c, 0, err)
		return
	}
	control, _ := splitControl(pairs, map[string]bool{"phase": true})
	switch strings.ToUpper(control["phase"]) {
	case "RUN":
		if _, err := h.jobs.Start(c.Request.Context(), middleware.User(c), c.Param("id"), middleware.Token(c)); err != nil {
			h.respondErr(c, err)
			return
		}
		c.Redirect(http.StatusSeeOther, h.jobURL(c, c.Param("id")))
	case "ABORT":
		response.Authorization(c, errors.New("ABORT is not supported"))
	default:
		response.Usage(c, 0, fmt.Errorf("unsupported phase %q", control["phase"]))
	}
}

// PostJobAttribute dispatches POST /jobs/{id}/{attribute} to the mutable
// sub-resources.
func (h *UWSHandler) PostJobAttribute(c *gin.Context) {
	switch c.Param("attribute") {
	case "phase":
		h.PostPhase(c)
	case "destruction":
		h.PostDestruction(c)
	case "executionduration":
		h.PostExecutionDuration(c)
	default:
		response.Usage(c, http.StatusNotFound, fmt.Errorf("unknown job attribute %q", c.Param("attribute")))
	}
}

// PostDestruction handles POST /jobs/{id}/destruction.
func (h *UWSHandler) PostDestruction(c *gin.Context) {
	pairs, err := requestPairs(c)
	if err != nil {
		response.Usage(c, 0, err)
		return
	}
	control, _ := splitControl(pairs, map[string]bool{"destruction": true})
	t, err := uws.ParseTimestamp(control["destruction"])
	if err != nil {
		response.Usage(c, 0, fmt.Errorf("invalid destruction timestamp %q", control["destruction"]))
		return
	}
	if _, err := h.jobs.UpdateDestruction(c.Request.Context(), middleware.User(c), c.Param("id"), t); err != nil {
		h.respondErr(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, h.jobURL(c, c.Param("id")))
}

// PostExecutionDuration handles POST /jobs/{id}/executionduration.
func (h *UWSHandler) PostExecutionDuration(c *gin.Context) {
	pairs, err := requestPairs(c)
	if err != nil {
		response.Usage(c, 0, err)
		return
	}
	control, _ := splitControl(pairs, map[string]bool{"executionduration": true})
	d, err := strconv.Atoi(control["executionduration"])
	if err != nil || d < 0 {
		response.Usage(c, 0, fmt.Errorf("invalid executionduration %q", control["executionduration"]))
		return
	}
	if _, err := h.jobs.UpdateExecutionDuration(c.Request.Context(), middleware.User(c), c.Param("id"), d); err != nil {
		h.respondErr(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, h.jobURL(c, c.Param("id")))
}

// GetJobAttribute handles GET /jobs/{id}/{owner,parameters,phase,quote,results,error}.
func (h *UWSHandler) GetJobAttribute(c *gin.Context) {
	job, err := h.jobs.Get(c.Request.Context(), middleware.User(c), c.Param("id"), services.GetOptions{})
	if err != nil {
		h.respondErr(c, err)
		return
	}
	switch c.Param("attribute") {
	case "owner":
		c.String(http.StatusOK, job.Owner)
	case "phase":
		c.String(http.StatusOK, string(job.Phase))
	case "quote":
		if job.Quote == nil {
			c.String(http.StatusOK, "")
			return
		}
		c.String(http.StatusOK, uws.FormatTimestamp(*job.Quote))
	case "parameters":
		// Render the full document; parameters are a fragment of it, and
		// clients accept the enclosing job element.
		h.renderJob(c, job)
	case "results":
		h.renderJob(c, job)
	case "error":
		if job.Error == nil {
			c.String(http.StatusOK, "")
			return
		}
		c.String(http.StatusOK, job.Error.Render())
	case "destruction":
		c.String(http.StatusOK, uws.FormatTimestamp(job.DestructionTime))
	case "executionduration":
		c.String(http.StatusOK, strconv.Itoa(job.ExecutionDuration))
	default:
		response.Usage(c, http.StatusNotFound, fmt.Errorf("unknown job attribute %q", c.Param("attribute")))
	}
}
