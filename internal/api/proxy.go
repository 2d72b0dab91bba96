package api

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Intercept feeds every request that is not a /v1 route through the worker.
// Absolute-form requests (the process used as an HTTP proxy) keep their
// target; everything else is resolved against the app origin.
func (h *Handler) Intercept(c *gin.Context) {
	target := outboundURL(c.Request, h.appOrigin)

	out, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, target.String(), c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out.Header = c.Request.Header.Clone()
	for _, k := range hopHeaders {
		out.Header.Del(k)
	}
	out.ContentLength = c.Request.ContentLength

	resp := h.worker.HandleFetch(c.Request.Context(), out)
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		if isHop(k) {
			continue
		}
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		c.Error(err)
	}
}

func outboundURL(r *http.Request, appOrigin *url.URL) *url.URL {
	if r.URL.IsAbs() {
		u := *r.URL
		return &u
	}
	return &url.URL{
		Scheme:   appOrigin.Scheme,
		Host:     appOrigin.Host,
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}
}

func isHop(header string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(h, header) {
			return true
		}
	}
	return false
}

func origin(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
