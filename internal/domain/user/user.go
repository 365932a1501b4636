package user

import (
	"errors"
	"time"
)

type Role string

const (
	RoleStudent   Role = "student"
	RoleFaculty   Role = "faculty"
	RoleLibrarian Role = "librarian"
	RoleAdmin     Role = "admin"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleStudent, RoleFaculty, RoleLibrarian, RoleAdmin:
		return true
	default:
		return false
	}
}

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	// StatusInactive marks a soft-deleted member. Rows stay in the table
	// so historical loans keep their foreign keys.
	StatusInactive Status = "inactive"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusInactive:
		return true
	default:
		return false
	}
}

type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"` // never expose hash in JSON
	FullName       string    `json:"fullName"`
	Role           Role      `json:"role"`
	Status         Status    `json:"status"`
	UniversityID   *string   `json:"universityId,omitempty"`
	UniversityName *string   `json:"universityName,omitempty"`
	Department     *string   `json:"department,omitempty"`
	YearLevel      *int      `json:"yearLevel,omitempty"`
	Course         *string   `json:"course,omitempty"`
	Phone          *string   `json:"phone,omitempty"`
	AvatarURL      *string   `json:"avatarUrl,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

var ErrNotFound = errors.New("user not found")

// with pointers if optional, it will be nil
type ListFilter struct {
	Query  *string // case-insensitive match on full_name / email / university_id
	Role   *Role
	Status *Status // staff views may filter on suspended; inactive is never listed
	Limit  int
	Offset int
}

type CreateUserRequest struct {
	Email          string  `json:"email" binding:"required,email"`
	Password       string  `json:"password" binding:"required,min=8"`
	FullName       string  `json:"fullName" binding:"required,min=2,max=120"`
	Role           Role    `json:"role" binding:"required,oneof=student faculty librarian admin"`
	UniversityID   *string `json:"universityId" binding:"omitempty,max=40"`
	UniversityName *string `json:"universityName" binding:"omitempty,max=160"`
	Department     *string `json:"department" binding:"omitempty,max=120"`
	YearLevel      *int    `json:"yearLevel" binding:"omitempty,min=1,max=10"`
	Course         *string `json:"course" binding:"omitempty,max=120"`
	Phone          *string `json:"phone" binding:"omitempty,max=32"`
}

// UpdateUserRequest is a patch payload: nil means "leave untouched".
type UpdateUserRequest struct {
	Email          *string `json:"email" binding:"omitempty,email"`
	FullName       *string `json:"fullName" binding:"omitempty,min=2,max=120"`
	UniversityID   *string `json:"universityId" binding:"omitempty,max=40"`
	UniversityName *string `json:"universityName" binding:"omitempty,max=160"`
	Department     *string `json:"department" binding:"omitempty,max=120"`
	YearLevel      *int    `json:"yearLevel" binding:"omitempty,min=1,max=10"`
	Course         *string `json:"course" binding:"omitempty,max=120"`
	Phone          *string `json:"phone" binding:"omitempty,max=32"`
	AvatarURL      *string `json:"avatarUrl" binding:"omitempty,url,max=512"`
}

// IsEmpty reports whether the patch carries no fields at all.
func (r UpdateUserRequest) IsEmpty() bool {
	return r.Email == nil &&
		r.FullName == nil &&
		r.UniversityID == nil &&
		r.UniversityName == nil &&
		r.Department == nil &&
		r.YearLevel == nil &&
		r.Course == nil &&
		r.Phone == nil &&
		r.AvatarURL == nil
}

// Stats counts active and suspended members. Inactive (soft-deleted) rows
// are never counted, in any view.
type Stats struct {
	TotalUsers int          `json:"totalUsers"`
	ByRole     map[Role]int `json:"byRole"`
	Suspended  int          `json:"suspended"`
}
