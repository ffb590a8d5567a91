package api

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// maxBodySize caps every decoded request body, compressed or not.
const maxBodySize = 64 << 10

// RequestBodyMiddleware bounds request bodies to limit bytes after inflating
// gzip-encoded ones. A declared length over the limit is rejected with 413
// before the body is read; handlers see a *http.MaxBytesError once an
// undeclared or inflated body runs past it. A body that is not valid gzip is
// rejected with 400.
func RequestBodyMiddleware(limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			gzipped := isGzip(req.Header.Get(echo.HeaderContentEncoding))
			if !gzipped && req.ContentLength > limit {
				_ = req.Body.Close()
				return echo.NewHTTPError(http.StatusRequestEntityTooLarge, errBodyTooLarge.Error())
			}

			body := req.Body
			if gzipped {
				gr, err := gzip.NewReader(req.Body)
				if err != nil {
					_ = req.Body.Close()
					return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
				}
				body = &inflatedBody{Reader: gr, raw: req.Body}
				req.ContentLength = -1
				req.Header.Del(echo.HeaderContentEncoding)
				req.Header.Del(echo.HeaderContentLength)
			}
			req.Body = http.MaxBytesReader(c.Response(), body, limit)
			return next(c)
		}
	}
}

func isGzip(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

// inflatedBody closes the gzip stream together with the raw body under it.
type inflatedBody struct {
	*gzip.Reader
	raw io.Closer
}

func (b *inflatedBody) Close() error {
	err := b.Reader.Close()
	if cerr := b.raw.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
