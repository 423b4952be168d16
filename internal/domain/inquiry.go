package domain

import (
	"net/mail"
	"strings"
)

// InquiryType is the topic picked on the contact form.
type InquiryType string

const (
	InquiryGeneral      InquiryType = "general"
	InquirySales        InquiryType = "sales"
	InquiryClinical     InquiryType = "clinical"
	InquiryDistribution InquiryType = "distribution"
	InquiryCareers      InquiryType = "careers"
)

// Valid reports whether t is one of the known inquiry types.
func (t InquiryType) Valid() bool {
	switch t {
	case InquiryGeneral, InquirySales, InquiryClinical, InquiryDistribution, InquiryCareers:
		return true
	}
	return false
}

// Inquiry is one contact-form submission. It is never persisted.
type Inquiry struct {
	FullName string      `json:"fullName"`
	Email    string      `json:"email"`
	Phone    string      `json:"phone,omitempty"`
	Company  string      `json:"company,omitempty"`
	Type     InquiryType `json:"inquiryType"`
	Message  string      `json:"message"`
}

// MissingField returns the name of the first required field that is empty or
// malformed, or "" when the inquiry can be sent.
func (q Inquiry) MissingField() string {
	switch {
	case strings.TrimSpace(q.FullName) == "":
		return "fullName"
	case strings.TrimSpace(q.Email) == "":
		return "email"
	case !ValidEmail(q.Email):
		return "email"
	case !q.Type.Valid():
		return "inquiryType"
	case strings.TrimSpace(q.Message) == "":
		return "message"
	}
	return ""
}

// ValidEmail reports whether s is a bare email address.
func ValidEmail(s string) bool {
	addr, err := mail.ParseAddress(strings.TrimSpace(s))
	return err == nil && addr.Address == strings.TrimSpace(s)
}
