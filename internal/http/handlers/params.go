package handlers

import (
	"io"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lsst-sqre/vo-cutouts-sub000/internal/uws"
)

// formPair is one decoded key/value from the query string or a form body.
// Keys are lowercased on parse so parameter matching is case-insensitive.
// Pair order follows wire order; url.Values would lose it, and the store
// persists parameters in the order they arrived.
type formPair struct {
	Key    string
	Value  string
	IsPost bool
}

func decodePairs(raw string, isPost bool) []formPair {
	var pairs []formPair
	for _, chunk := range strings.Split(raw, "&") {
		if chunk == "" {
			continue
		}
		key, value, _ := strings.Cut(chunk, "=")
		k, err := url.QueryUnescape(key)
		if err != nil {
			continue
		}
		v, err := url.QueryUnescape(strings.ReplaceAll(value, "+", " "))
		if err != nil {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		pairs = append(pairs, formPair{Key: k, Value: v, IsPost: isPost})
	}
	return pairs
}

// requestPairs decodes the query string and, for form posts, the body, in
// wire order.
func requestPairs(c *gin.Context) ([]formPair, error) {
	pairs := decodePairs(c.Request.URL.RawQuery, false)
	ct := c.ContentType()
	if c.Request.Method == "POST" && (ct == "" || strings.HasPrefix(ct, "application/x-www-form-urlencoded")) {
		if c.Request.Body != nil {
			body, err := io.ReadAll(c.Request.Body)
			if err != nil {
				return nil, err
			}
			pairs = append(pairs, decodePairs(string(body), true)...)
		}
	}
	return pairs, nil
}

// splitControl separates recognized control keys from job parameters. The
// last occurrence of a control key wins; every other pair becomes a job
// parameter in order.
func splitControl(pairs []formPair, controlKeys map[string]bool) (control map[string]string, params []uws.JobParameter) {
	control = make(map[string]string)
	for _, p := range pairs {
		if controlKeys[p.Key] {
			control[p.Key] = p.Value
			continue
		}
		params = append(params, uws.JobParameter{ID: p.Key, Value: p.Value, IsPost: p.IsPost})
	}
	return control, params
}
