package domain

import "time"

type Role string

const (
	RoleDoctor Role = "Doctor"
	RoleNurse  Role = "Nurse"
	RoleOther  Role = "Other"
)

func (r Role) Valid() bool {
	switch r {
	case RoleDoctor, RoleNurse, RoleOther:
		return true
	}
	return false
}

// Evaluator es el perfil de un profesional que puntúa conversaciones.
// El username es inmutable y funciona como clave de búsqueda.
type Evaluator struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	CredentialHash  string    `json:"-"`
	DisplayName     string    `json:"display_name"`
	Role            Role      `json:"role"`
	Specialty       *string   `json:"specialty,omitempty"`
	ExperienceYears int       `json:"experience_years"`
	CreatedAt       time.Time `json:"created_at"`
}

// ProfileInput son los atributos de perfil enviados al registrarse.
type ProfileInput struct {
	DisplayName     string  `json:"display_name"`
	Role            Role    `json:"role"`
	Specialty       *string `json:"specialty,omitempty"`
	ExperienceYears *int    `json:"experience_years,omitempty"`
}

// ProfilePatch actualiza parcialmente el perfil; los campos nil no cambian.
type ProfilePatch struct {
	DisplayName     *string `json:"display_name,omitempty"`
	Role            *Role   `json:"role,omitempty"`
	Specialty       *string `json:"specialty,omitempty"`
	ExperienceYears *int    `json:"experience_years,omitempty"`
}

func (p ProfilePatch) Apply(e *Evaluator) {
	if p.DisplayName != nil {
		e.DisplayName = *p.DisplayName
	}
	if p.Role != nil {
		e.Role = *p.Role
	}
	if p.Specialty != nil {
		specialty := *p.Specialty
		e.Specialty = &specialty
	}
	if p.ExperienceYears != nil {
		e.ExperienceYears = *p.ExperienceYears
	}
}
