package dbrest

import (
	"io"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/ambiyansyah-risyal/dbrest/internal/demux"
)

const maxErrorBody = 1 << 20

// decodeResponse settles p from resp. Statuses outside the operation's
// valid set reject with *ServerError; empty statuses resolve with no items;
// anything else is decoded item by item as it is read.
func (c *Client) decodeResponse(op *Operation, resp *http.Response, p *ResultProvider[Item], requestID string) {
	start := time.Now()
	body, err := c.responseBody(resp)
	if err != nil {
		p.Reject(c.decodeError(op, resp, err, requestID, start))
		return
	}
	defer body.Close()
	contentType := resp.Header.Get("Content-Type")

	if !op.IsValidStatus(resp.StatusCode) {
		raw, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
		parsed, message := demux.ErrorBody(raw, contentType)
		if c.debugEnabled(c.debug.LogDecode) {
			c.logger.Warn("Server error", "requestID", requestID, "operation", op.Name, "statusCode", resp.StatusCode, "message", message)
		}
		p.Reject(&ServerError{
			Operation:   op.Name,
			StatusCode:  resp.StatusCode,
			ContentType: contentType,
			Message:     message,
			Body:        parsed,
			Raw:         raw,
		})
		return
	}

	if op.IsEmptyStatus(resp.StatusCode) || op.InboundShape == ShapeEmpty {
		_, _ = io.Copy(io.Discard, body)
		if c.debugEnabled(c.debug.LogDecode) {
			c.logger.Debug("Empty result", "requestID", requestID, "operation", op.Name, "statusCode", resp.StatusCode)
		}
		p.Resolve()
		return
	}

	count := 0
	emit := func(part demux.Part) error {
		count++
		c.metrics.RecordDecodedItem(op.Name, demux.MediaType(part.ContentType))
		p.Emit(part)
		return nil
	}

	if strings.HasPrefix(demux.MediaType(contentType), "multipart/") {
		err = demux.DecodeMultipart(body, contentType, emit)
	} else {
		mode := demux.ModeValue
		if op.Consume == ConsumeRows {
			mode = demux.ModeRows
		}
		err = demux.DecodeBody(body, textproto.MIMEHeader(resp.Header), mode, emit)
	}
	if err == nil {
		// reading to EOF verifies the gzip trailer
		_, err = io.Copy(io.Discard, body)
	}
	if err != nil {
		p.Reject(c.decodeError(op, resp, err, requestID, start))
		return
	}

	if c.debugEnabled(c.debug.LogDecode) {
		c.logger.Debug("Response decoded", "requestID", requestID, "operation", op.Name, "contentType", contentType, "items", count)
	}
	p.Resolve()
}

// responseBody inflates gzip bodies the transport left compressed. Closing
// the returned reader leaves resp.Body to the caller.
func (c *Client) responseBody(resp *http.Response) (io.ReadCloser, error) {
	if !strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		return io.NopCloser(resp.Body), nil
	}
	zr, err := gzip.NewReader(resp.Body)
	if err != nil {
		return nil, err
	}
	return zr, nil
}

func (c *Client) decodeError(op *Operation, resp *http.Response, err error, requestID string, start time.Time) *TransportError {
	endpoint := op.Request.Path
	if resp.Request != nil && resp.Request.URL != nil {
		endpoint = getEndpointFromRequest(resp.Request)
	}
	c.metrics.RecordError("Decode", op.Request.Method, endpoint)
	if c.debugEnabled(c.debug.LogDecode) {
		c.logger.Error("Response decode failed", "requestID", requestID, "operation", op.Name, "error", err.Error())
	}
	te := &TransportError{
		Type:       ErrorTypeDecode,
		Message:    "decode response",
		Cause:      err,
		RequestID:  requestID,
		Operation:  op.Name,
		Method:     op.Request.Method,
		StatusCode: resp.StatusCode,
		Timestamp:  time.Now(),
		Duration:   time.Since(start),
		Endpoint:   endpoint,
	}
	if resp.Request != nil && resp.Request.URL != nil {
		te.URL = resp.Request.URL.String()
	}
	return te
}
