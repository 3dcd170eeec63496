// internal/services/auth_service.go
package services

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/opengrants/grants-backend/internal/apperrors"
	"github.com/opengrants/grants-backend/internal/config"
	"github.com/opengrants/grants-backend/internal/models"
	"github.com/opengrants/grants-backend/internal/utils"
)

// AuthService issues the address-bearing tokens every ledger call
// authenticates with. Registering an account mints a fresh ledger
// address; an existing wallet can be bound instead.
type AuthService struct {
	db  *gorm.DB
	cfg *config.Config
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,strong_password"`
	Address  string `json:"address,omitempty" validate:"omitempty,ledger_address"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AuthResponse struct {
	Account      *models.Account `json:"account"`
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	TokenType    string          `json:"token_type"`
	ExpiresIn    int             `json:"expires_in"` // in seconds
}

func NewAuthService(db *gorm.DB, cfg *config.Config) *AuthService {
	return &AuthService{
		db:  db,
		cfg: cfg,
	}
}

func (s *AuthService) Register(req *RegisterRequest) (*AuthResponse, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, apperrors.Wrap(apperrors.KindParameter, "validation failed", err)
	}

	var existing models.Account
	if err := s.db.Where("email = ?", req.Email).First(&existing).Error; err == nil {
		return nil, apperrors.State("account with this email already exists")
	}

	address := req.Address
	if address == "" {
		generated, err := utils.GenerateAddress()
		if err != nil {
			return nil, apperrors.Internal(err)
		}
		address = generated
	} else {
		var taken models.Account
		if err := s.db.Where("address = ?", address).First(&taken).Error; err == nil {
			return nil, apperrors.State("address already bound to an account")
		}
	}

	account := &models.Account{
		Email:   req.Email,
		Address: address,
		Status:  models.AccountStatusActive,
	}
	if err := account.SetPassword(req.Password); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "failed to hash password", err)
	}

	if err := s.db.Create(account).Error; err != nil {
		return nil, apperrors.Internal(err)
	}

	return s.issueTokens(account)
}

func (s *AuthService) Login(req *LoginRequest) (*AuthResponse, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, apperrors.Wrap(apperrors.KindParameter, "validation failed", err)
	}

	var account models.Account
	if err := s.db.Where("email = ?", req.Email).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Authorization("invalid email or password")
		}
		return nil, apperrors.Internal(err)
	}

	if account.Status == models.AccountStatusSuspended {
		return nil, apperrors.Authorization("account is suspended")
	}
	if !account.CheckPassword(req.Password) {
		return nil, apperrors.Authorization("invalid email or password")
	}

	return s.issueTokens(&account)
}

func (s *AuthService) RefreshToken(refreshToken string) (*AuthResponse, error) {
	address, err := utils.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindAuthorization, "invalid refresh token", err)
	}

	var account models.Account
	if err := s.db.Where("address = ?", address).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("account")
		}
		return nil, apperrors.Internal(err)
	}

	if account.Status != models.AccountStatusActive {
		return nil, apperrors.Authorization("account is not active")
	}

	return s.issueTokens(&account)
}

// RebindAddressTx moves a login to a new ledger address inside a
// wallet-migration transaction, so the next token carries the migrated
// identity. An address without a platform account is a no-op; a new
// address already claimed by another account aborts the migration.
func (s *AuthService) RebindAddressTx(tx *gorm.DB, oldAddress, newAddress string) error {
	if !utils.IsValidAddress(newAddress) {
		return apperrors.Parameter("invalid ledger address")
	}

	var taken models.Account
	err := tx.Where("address = ?", newAddress).First(&taken).Error
	if err == nil {
		return apperrors.Consistency("RebindAddress: new address already bound to an account")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.Internal(err)
	}

	result := tx.Model(&models.Account{}).
		Where("address = ?", oldAddress).
		Update("address", newAddress)
	if result.Error != nil {
		return apperrors.Internal(result.Error)
	}
	return nil
}

func (s *AuthService) GetAccountByAddress(address string) (*models.Account, error) {
	var account models.Account
	if err := s.db.Where("address = ?", address).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("account")
		}
		return nil, apperrors.Internal(err)
	}
	return &account, nil
}

func (s *AuthService) issueTokens(account *models.Account) (*AuthResponse, error) {
	accessToken, err := utils.GenerateJWT(
		account.Address,
		account.Email,
		account.IsOperator,
		s.cfg.JWT.AccessTokenTTL,
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, fmt.Sprintf("failed to generate access token for %s", account.Address), err)
	}

	refreshToken, err := utils.GenerateRefreshToken(account.Address, s.cfg.JWT.RefreshTokenTTL)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "failed to generate refresh token", err)
	}

	return &AuthResponse{
		Account:      account,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    s.cfg.JWT.AccessTokenTTL * 3600,
	}, nil
}
