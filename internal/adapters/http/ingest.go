package httpadapter

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"

	"github.com/kirillkom/document-intake/internal/core/domain"
)

// multipartMemory caps the part of a form kept in memory; larger files spill
// to temporary files managed by mime/multipart.
const multipartMemory = 8 << 20

func (rt *Router) generate(docType domain.DocumentType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file, header, err := rt.formFile(w, r, "file")
		if err != nil {
			rt.writeError(w, r, err)
			return
		}
		defer file.Close()
		if rt.metrics != nil {
			rt.metrics.RecordUpload(serviceName, r.URL.Path, header.Size)
		}

		query := r.URL.Query()
		record, err := rt.services.Generator.Generate(r.Context(), domain.GenerateRequest{
			FileName:     header.Filename,
			Body:         file,
			Parser:       query.Get("parser"),
			Model:        query.Get("model"),
			DocumentType: docType,
			Language:     firstNonEmpty(query.Get("language"), rt.defaultLanguage),
		})
		if err != nil {
			rt.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	}
}

func (rt *Router) upload(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	file, header, err := rt.formFile(w, r, "file")
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	defer file.Close()
	if rt.metrics != nil {
		rt.metrics.RecordUpload(serviceName, r.URL.Path, header.Size)
	}

	job, err := rt.services.Uploader.Upload(r.Context(), user, header.Filename, file)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// inboundEmail receives a Mailgun inbound-route webhook. Every uploaded part
// of the form is treated as an attachment, in form key order.
func (rt *Router) inboundEmail(w http.ResponseWriter, r *http.Request) {
	outcome := "failed"
	defer func() {
		if rt.metrics != nil {
			rt.metrics.RecordInboundEmail(serviceName, outcome)
		}
	}()

	r.Body = http.MaxBytesReader(w, r.Body, rt.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		rt.writeError(w, r, formError("inbound email", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	sender := strings.TrimSpace(r.PostFormValue("sender"))
	subject := strings.TrimSpace(r.PostFormValue("subject"))
	if sender == "" || subject == "" {
		outcome = "rejected"
		rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "inbound email",
			errors.New("missing required email fields: sender and subject are required")))
		return
	}
	if !validMailgunSignature(rt.mailgunSigningKey, r.PostFormValue("timestamp"), r.PostFormValue("token"), r.PostFormValue("signature")) {
		outcome = "rejected"
		rt.logger.Warn("mailgun_signature_invalid", "request_id", requestIDFromContext(r.Context()), "sender", sender)
		rt.writeError(w, r, domain.WrapError(domain.ErrForbidden, "inbound email", errors.New("invalid signature")))
		return
	}

	attachments, closeAll, err := formAttachments(r.MultipartForm)
	defer closeAll()
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	records, err := rt.services.Email.IngestEmail(r.Context(), domain.InboundEmail{
		Sender:      sender,
		Recipient:   r.PostFormValue("recipient"),
		Subject:     subject,
		Attachments: attachments,
	})
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	outcome = "processed"
	writeJSON(w, http.StatusOK, records)
}

func (rt *Router) formFile(w http.ResponseWriter, r *http.Request, field string) (multipart.File, *multipart.FileHeader, error) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, nil, formError("read upload", err)
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, nil, domain.WrapError(domain.ErrInvalidInput, "read upload", fmt.Errorf("multipart field %q: %w", field, err))
	}
	return file, header, nil
}

func formError(op string, err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return domain.WrapError(domain.ErrInvalidInput, op, err)
}

func formAttachments(form *multipart.Form) ([]domain.Attachment, func(), error) {
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}

	keys := make([]string, 0, len(form.File))
	for key := range form.File {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var attachments []domain.Attachment
	for _, key := range keys {
		for _, header := range form.File[key] {
			f, err := header.Open()
			if err != nil {
				return nil, closeAll, fmt.Errorf("open attachment %q: %w", header.Filename, err)
			}
			opened = append(opened, f)
			attachments = append(attachments, domain.Attachment{FileName: header.Filename, Body: f})
		}
	}
	return attachments, closeAll, nil
}

// validMailgunSignature checks the hex HMAC-SHA256 of timestamp+token.
func validMailgunSignature(signingKey, timestamp, token, signature string) bool {
	if signingKey == "" || timestamp == "" || token == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write([]byte(timestamp + token))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
