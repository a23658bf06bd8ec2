package domain

import "io"

// GenerateRequest asks for a synchronous parse + extract of one file without
// job tracking or persistence.
type GenerateRequest struct {
	FileName     string
	Body         io.Reader
	Parser       string
	Model        string
	DocumentType DocumentType
	Language     string
}

type Attachment struct {
	FileName string
	Body     io.Reader
}

type InboundEmail struct {
	Sender      string
	Recipient   string
	Subject     string
	Attachments []Attachment
}
