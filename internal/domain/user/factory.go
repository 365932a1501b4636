package user

import (
	"time"

	"github.com/google/uuid"
)

func NewFromCreateRequest(req CreateUserRequest, passwordHash string) User {
	now := time.Now().UTC()

	return User{
		ID:             uuid.NewString(),
		Email:          req.Email,
		PasswordHash:   passwordHash,
		FullName:       req.FullName,
		Role:           req.Role,
		Status:         StatusActive,
		UniversityID:   req.UniversityID,
		UniversityName: req.UniversityName,
		Department:     req.Department,
		YearLevel:      req.YearLevel,
		Course:         req.Course,
		Phone:          req.Phone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
