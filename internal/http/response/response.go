package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error bodies are plain text. The first token names the error family so
// clients can classify without parsing: UsageError, AuthorizationError, or
// Error. Detail, when present, follows after a blank line.

func plainError(c *gin.Context, status int, token string, err error) {
	body := token
	if err != nil && err.Error() != "" {
		body += "\n\n" + err.Error()
	}
	c.String(status, body)
	c.Abort()
}

// Usage reports a malformed or unsatisfiable request (422 by default; pass
// 404 for missing jobs).
func Usage(c *gin.Context, status int, err error) {
	if status == 0 {
		status = http.StatusUnprocessableEntity
	}
	plainError(c, status, "UsageError", err)
}

// Authorization reports an ownership or permission failure.
func Authorization(c *gin.Context, err error) {
	plainError(c, http.StatusForbidden, "AuthorizationError", err)
}

// Failed reports a request-level failure such as a sync job ending in error.
func Failed(c *gin.Context, status int, err error) {
	if status == 0 {
		status = http.StatusBadRequest
	}
	plainError(c, status, "Error", err)
}

// Internal reports an unexpected server-side failure.
func Internal(c *gin.Context, err error) {
	plainError(c, http.StatusInternalServerError, "Error", err)
}

// XML writes a rendered XML document.
func XML(c *gin.Context, status int, body []byte) {
	c.Data(status, "application/xml; charset=utf-8", body)
}
