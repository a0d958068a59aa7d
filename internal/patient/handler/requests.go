package handler

import (
	"time"

	"docflow/internal/patient/models"
	patientservice "docflow/internal/patient/service"
	id "docflow/pkg/domain"
	dErrors "docflow/pkg/domain-errors"
)

const birthDateLayout = "2006-01-02"

type patientRequest struct {
	TenantID   string `json:"tenant_id,omitempty"`
	FullName   string `json:"full_name"`
	NationalID string `json:"national_id"`
	Phone      string `json:"phone,omitempty"`
	Sex        string `json:"sex,omitempty"`
	BirthDate  string `json:"birth_date,omitempty"`
}

func (r patientRequest) toInput() (patientservice.Input, error) {
	input := patientservice.Input{
		FullName:   r.FullName,
		NationalID: r.NationalID,
		Phone:      r.Phone,
		Sex:        models.Sex(r.Sex),
	}
	if r.TenantID != "" {
		tenantID, err := id.ParseTenantID(r.TenantID)
		if err != nil {
			return patientservice.Input{}, err
		}
		input.TenantID = tenantID
	}
	if r.BirthDate != "" {
		birth, err := time.Parse(birthDateLayout, r.BirthDate)
		if err != nil {
			return patientservice.Input{}, dErrors.NewField(dErrors.CodeValidation, "birth_date", "birth date must be YYYY-MM-DD")
		}
		input.BirthDate = &birth
	}
	return input, nil
}

type searchRequest struct {
	TenantID   string `json:"tenant_id,omitempty"`
	NationalID string `json:"national_id"`
}

type registerRequest struct {
	ClinicSlug          string   `json:"clinic_slug"`
	Email               string   `json:"email"`
	FullName            string   `json:"full_name"`
	NationalID          string   `json:"national_id"`
	Phone               string   `json:"phone,omitempty"`
	Sex                 string   `json:"sex,omitempty"`
	BirthDate           string   `json:"birth_date,omitempty"`
	AcceptedDocumentIDs []string `json:"accepted_document_ids"`
}

func (r registerRequest) toInput() (patientservice.RegistrationInput, error) {
	input := patientservice.RegistrationInput{
		ClinicSlug: r.ClinicSlug,
		Email:      r.Email,
		FullName:   r.FullName,
		NationalID: r.NationalID,
		Phone:      r.Phone,
		Sex:        models.Sex(r.Sex),
	}
	if r.BirthDate != "" {
		birth, err := time.Parse(birthDateLayout, r.BirthDate)
		if err != nil {
			return patientservice.RegistrationInput{}, dErrors.NewField(dErrors.CodeValidation, "birth_date", "birth date must be YYYY-MM-DD")
		}
		input.BirthDate = &birth
	}
	for _, raw := range r.AcceptedDocumentIDs {
		docID, err := id.ParseDocumentID(raw)
		if err != nil {
			return patientservice.RegistrationInput{}, err
		}
		input.AcceptedDocumentIDs = append(input.AcceptedDocumentIDs, docID)
	}
	return input, nil
}

type registerResponse struct {
	AccountID id.PrincipalID `json:"account_id"`
	PatientID id.PatientID   `json:"patient_id"`
	Email     string         `json:"email"`
}

type revealResponse struct {
	NationalID string `json:"national_id"`
	Masked     string `json:"masked"`
}
