package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	ROLE_PARENT = "parent"
	ROLE_CHILD  = "child"
	ROLE_ADMIN  = "admin"

	STATUS_ACTIVE   = "active"
	STATUS_INACTIVE = "inactive"
	STATUS_DISABLED = "disabled"
)

type User struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	Name              string         `gorm:"type:varchar(150)" json:"name" validate:"required,min=2,max=150"`
	Email             string         `gorm:"uniqueIndex;type:varchar(200) CHARACTER SET utf8 COLLATE utf8_bin" json:"email" validate:"required,email,min=5,max=200"`
	Password          string         `gorm:"type:text" json:"-" validate:"required,min=6"`
	Role              string         `gorm:"type:varchar(50);default:'parent';index" json:"role" validate:"oneof=parent child admin"`
	Status            string         `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active inactive disabled"`
	GroupID           uint           `gorm:"index" json:"group_id"`
	// TasksCreatedTotal is a lifetime activity counter, batched in from Redis.
	TasksCreatedTotal int64          `gorm:"not null;default:0" json:"tasks_created_total"`
	LastLoginAt       *time.Time     `gorm:"type:timestamp;default:null" json:"last_login_at"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// IsParent reports whether the user holds the guardian role for their group.
func (u *User) IsParent() bool {
	return u.Role == ROLE_PARENT
}

// IsChild reports whether the user holds the restricted minor role.
func (u *User) IsChild() bool {
	return u.Role == ROLE_CHILD
}

// CanApproveFor reports whether the user may approve purchase requests made by
// the given requester. Guardianship is scoped to the shared group.
func (u *User) CanApproveFor(requester *User) bool {
	if u == nil || requester == nil {
		return false
	}
	return u.IsParent() && u.GroupID != 0 && u.GroupID == requester.GroupID
}

func CreateUser(db *gorm.DB, name, email, password, role string, groupID uint) (*User, error) {
	pw, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &User{
		Name:     name,
		Email:    email,
		Password: pw,
		Role:     role,
		Status:   STATUS_ACTIVE,
		GroupID:  groupID,
	}
	if err := db.Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
