// internal/models/account.go
package models

import (
	"golang.org/x/crypto/bcrypt"
)

// Account is a platform login bound to one ledger address. The address
// in the JWT issued at login is the caller identity for every
// permission check; operators may pause ledgers and seed registries.
type Account struct {
	BaseModel
	Email        string        `json:"email" gorm:"size:255;not null;uniqueIndex"`
	PasswordHash string        `json:"-" gorm:"size:255;not null"`
	Address      string        `json:"address" gorm:"size:64;not null;uniqueIndex"`
	IsOperator   bool          `json:"is_operator" gorm:"default:false"`
	Status       AccountStatus `json:"status" gorm:"type:varchar(16);default:'active'"`
}

func (a *Account) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	a.PasswordHash = string(hash)
	return nil
}

func (a *Account) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) == nil
}
