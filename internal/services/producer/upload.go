package producer

import (
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"donecast/internal/logging"
	"donecast/internal/services"
)

// ProgressFunc receives upload progress callbacks.
type ProgressFunc func(sentBytes, totalBytes int64)

// Upload submits the audio file as a multipart request. The request deadline
// scales with the payload size. The upload aborts as soon as ctx is
// cancelled.
func (c *Client) Upload(ctx context.Context, path string, progress ProgressFunc) (UploadResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return UploadResult{}, services.Wrap(services.ErrValidation, "producer", "upload", "open audio file", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return UploadResult{}, services.Wrap(services.ErrValidation, "producer", "upload", "stat audio file", err)
	}
	total := info.Size()

	uploadCtx, cancel := context.WithTimeout(ctx, c.uploadTimeout(total))
	defer cancel()

	reader, writer := io.Pipe()
	form := multipart.NewWriter(writer)

	go func() {
		part, err := form.CreateFormFile("file", filepath.Base(path))
		if err != nil {
			writer.CloseWithError(err)
			return
		}
		src := &progressReader{reader: file, total: total, progress: progress}
		if _, err := io.Copy(part, src); err != nil {
			writer.CloseWithError(err)
			return
		}
		writer.CloseWithError(form.Close())
	}()

	req, err := c.newRequest(uploadCtx, http.MethodPost, "/api/v1/audio", reader)
	if err != nil {
		return UploadResult{}, services.Wrap(services.ErrFatal, "producer", "upload", "build request", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return UploadResult{}, c.transportError("upload", err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return UploadResult{}, c.classify("upload", resp)
	}

	var out UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return UploadResult{}, services.Wrap(services.ErrTransient, "producer", "upload", "decode response", err)
	}
	if out.Filename == "" {
		return UploadResult{}, services.Wrap(services.ErrFatal, "producer", "upload", "backend returned no filename", nil)
	}

	c.logger.Info("audio uploaded",
		logging.String("file", filepath.Base(path)),
		logging.String(logging.FieldAudioRef, out.Filename),
		logging.Int64("size_bytes", total))
	return out, nil
}

type progressReader struct {
	reader   io.Reader
	total    int64
	sent     int64
	progress ProgressFunc
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.sent += int64(n)
		if r.progress != nil {
			r.progress(r.sent, r.total)
		}
	}
	return n, err
}
