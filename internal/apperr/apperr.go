package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure so callers can map it to a response.
type Kind string

const (
	KindDocumentParse Kind = "document_parse"
	KindInvalidImage  Kind = "invalid_image"
	KindOCREngine     Kind = "ocr_engine"
	KindDiagnosisAPI  Kind = "diagnosis_api"
	KindNoText        Kind = "no_text"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func DocumentParse(message string, err error) *Error {
	return New(KindDocumentParse, message, err)
}

func InvalidImage(message string, err error) *Error {
	return New(KindInvalidImage, message, err)
}

func OCREngine(message string, err error) *Error {
	return New(KindOCREngine, message, err)
}

func DiagnosisAPI(message string, err error) *Error {
	return New(KindDiagnosisAPI, message, err)
}

func NoText(message string) *Error {
	return New(KindNoText, message, nil)
}

// KindOf returns the kind of the first *Error in err's chain, or "" when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
