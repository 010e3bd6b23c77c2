package domain

import "strings"

// Persona is a free-text description of a synthetic user.
type Persona = string

// PersonaForm is the input of persona generation.
type PersonaForm struct {
	TargetGender       string `json:"targetGender"`
	TargetAge          string `json:"targetAge"`
	TargetIncome       string `json:"targetIncome"`
	ServiceDescription string `json:"serviceDescription"`
	UsageScene         string `json:"usageScene"`
}

// Validate reports the first missing required field as a user-facing message.
func (f PersonaForm) Validate() error {
	if strings.TrimSpace(f.ServiceDescription) == "" {
		return ValidationError("service description is required")
	}
	return nil
}

// Params returns the form as prompt template parameters.
func (f PersonaForm) Params() map[string]string {
	return map[string]string{
		"targetGender":       f.TargetGender,
		"targetAge":          f.TargetAge,
		"targetIncome":       f.TargetIncome,
		"serviceDescription": f.ServiceDescription,
		"usageScene":         f.UsageScene,
	}
}

// ValidationError is an input problem that is shown to the user verbatim.
type ValidationError string

func (e ValidationError) Error() string { return string(e) }
