package fieldwork

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"net/url"
	"strconv"

	"github.com/skip2/go-qrcode"

	"fieldproof-backend/core/fieldwork"
)

// DeepLink is the URI encoded in a task's QR code for on-site workers.
func DeepLink(t fieldwork.Task) string {
	return fmt.Sprintf("fieldproof://task/%s?lat=%s&lon=%s&r=%s",
		url.PathEscape(t.TaskID),
		strconv.FormatFloat(t.Location.Lat, 'f', 6, 64),
		strconv.FormatFloat(t.Location.Lon, 'f', 6, 64),
		strconv.FormatFloat(t.Location.RadiusM, 'f', 0, 64),
	)
}

// TaskQRCode renders the deep link of a task as a PNG.
func (e *Engine) TaskQRCode(ctx context.Context, taskID string, size int) ([]byte, error) {
	agg, err := e.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if size <= 0 || size > 1024 {
		size = 256
	}
	qr, err := qrcode.New(DeepLink(agg.Task), qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code: %w", err)
	}
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, qr.Image(size)); err != nil {
		return nil, fmt.Errorf("failed to encode QR code to PNG: %w", err)
	}
	return buf.Bytes(), nil
}
