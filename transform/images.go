package transform

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// ImageFetcher downloads one image blob, returning its bytes and content
// type. The ERP client satisfies this.
type ImageFetcher interface {
	FetchImage(ctx context.Context, url string) ([]byte, string, error)
}

// Images downloads each URL and inlines it as a base64 data URL. A failed
// download drops that one image with a warning; the transform as a whole
// never fails on a single bad blob.
func Images(ctx context.Context, urls []string, fetcher ImageFetcher, log *logrus.Logger) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		body, contentType, err := fetcher.FetchImage(ctx, u)
		if err != nil {
			log.WithFields(logrus.Fields{
				"url": u,
			}).WithError(err).Warn("image download failed, dropping")
			continue
		}

		mime := contentType
		if i := strings.Index(mime, ";"); i >= 0 {
			mime = mime[:i]
		}
		mime = strings.TrimSpace(mime)
		if mime == "" || !strings.HasPrefix(mime, "image/") {
			mime = "image/jpeg"
		}

		log.WithFields(logrus.Fields{
			"url":  u,
			"size": humanize.Bytes(uint64(len(body))),
		}).Debug("inlined image")

		out = append(out, "data:"+mime+";base64,"+base64.StdEncoding.EncodeToString(body))
	}
	return out
}
